package metric

import (
	"cmp"
	"context"
	"crypto/tls"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/certmgr/errors"
)

const (
	DefaultAddr = ":9090"
	DefaultPath = "/metrics"
)

// Server exposes a Registry over HTTP, plus a plain /health endpoint.
type Server struct {
	addr     string
	path     string
	registry *Registry
	tls      *tls.Config

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer returns an unstarted server. Empty addr or path fall back to
// DefaultAddr and DefaultPath; a nil tlsConfig serves plain HTTP.
func NewServer(addr, path string, registry *Registry, tlsConfig *tls.Config) *Server {
	return &Server{
		addr:     cmp.Or(addr, DefaultAddr),
		path:     cmp.Or(path, DefaultPath),
		registry: registry,
		tls:      tlsConfig,
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.Prometheus(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// listen binds the socket and publishes the http.Server under the lock.
func (s *Server) listen() (*http.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil, nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "MetricsServer", "Start", "start on "+s.addr)
	}
	if s.registry == nil {
		return nil, nil, errors.WrapFatal(errors.ErrMissingConfig, "MetricsServer", "Start", "metrics registry")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "MetricsServer", "Start", "listen on "+s.addr)
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.srv = &http.Server{Handler: s.handler(), ReadHeaderTimeout: 10 * time.Second}
	s.ln = ln
	return s.srv, ln, nil
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	srv, ln, err := s.listen()
	if err != nil {
		return err
	}
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "MetricsServer", "Start", "serve on "+s.addr)
	}
	return nil
}

// Stop shuts the server down. The server may be started again afterwards.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "MetricsServer", "Stop", "shutdown")
	}
	return nil
}

// Address is the scrape URL: the bound address once started, otherwise the
// configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheme, addr := "http", s.addr
	if s.tls != nil {
		scheme = "https"
	}
	if s.ln != nil {
		addr = s.ln.Addr().String()
	}
	return scheme + "://" + addr + s.path
}
