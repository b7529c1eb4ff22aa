// Package http serves the certificate manager's management API.
package http

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/certmgr/certmgr"
	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/metric"
)

const (
	// DefaultMaxRequestSize bounds request bodies. PEM bundles are small.
	DefaultMaxRequestSize int64 = 1 << 20

	metricsComponent = "http_api"
)

// Server is the management API listener.
type Server struct {
	addr           string
	mgr            *certmgr.Manager
	monitor        *health.Monitor
	logger         *slog.Logger
	tlsConfig      *tls.Config
	maxRequestSize int64
	requests       *prometheus.CounterVec

	mux *http.ServeMux

	mu       sync.Mutex // protects server and listener
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthMonitor serves the monitor's aggregate on /health.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// WithTLSConfig serves HTTPS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// WithMaxRequestSize overrides DefaultMaxRequestSize.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestSize = n
		}
	}
}

// WithMetrics counts requests per route and status code.
func WithMetrics(registrar metric.Registrar) Option {
	return func(s *Server) {
		if registrar == nil {
			return
		}
		requests := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmgr",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Management API requests by route and status code",
		}, []string{"route", "code"})
		if err := registrar.Register(metricsComponent, "requests_total", requests); err != nil {
			s.logger.Warn("API request metrics disabled", "error", err)
			return
		}
		s.requests = requests
	}
}

// NewServer creates the API server for mgr.
func NewServer(addr string, mgr *certmgr.Manager, opts ...Option) (*Server, error) {
	if mgr == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "certificate manager is required")
	}
	if addr == "" {
		addr = ":8443"
	}

	s := &Server{
		addr:           addr,
		mgr:            mgr,
		logger:         slog.Default(),
		maxRequestSize: DefaultMaxRequestSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", metricsComponent)
	s.mux = s.routes()
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /v1/root-ca", s.handleRootCA)
	s.handle(mux, "GET /v1/certs", s.handleCertLs)
	s.handle(mux, "GET /v1/certs/{name}", s.handleGetCert)
	s.handle(mux, "PUT /v1/certs/{name}", s.handlePutCert)
	s.handle(mux, "DELETE /v1/certs/{name}", s.handleDeleteCert)
	s.handle(mux, "GET /v1/keys", s.handleKeyLs)
	s.handle(mux, "PUT /v1/keys/{name}", s.handlePutKey)
	s.handle(mux, "DELETE /v1/keys/{name}", s.handleDeleteKey)
	s.handle(mux, "PUT /v1/pairs", s.handlePutPair)
	s.handle(mux, "POST /v1/check", s.handleCheck)
	s.handle(mux, "POST /v1/prepare", s.handlePrepare)
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(requestIDHeader, requestID(r))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, s.maxRequestSize)

		h(rec, r)

		if s.requests != nil {
			s.requests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		}
	})
}

// Handler returns the API handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "API server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("failed to listen on %s", s.addr))
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Management API listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("API server on %s failed", s.addr))
	}
	return nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "failed to stop API server")
	}
	return nil
}

// Address returns the bound address, or the configured one before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheme := "http"
	if s.tlsConfig != nil {
		scheme = "https"
	}
	addr := s.addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return scheme + "://" + addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
