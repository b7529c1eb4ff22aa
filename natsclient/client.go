package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/certmgr/errors"
)

// ConnectionStatus is the state of the client's connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// handlerTimeout bounds each Subscribe handler invocation.
const handlerTimeout = 30 * time.Second

// Client owns one NATS connection and its JetStream context. Connection
// attempts and bucket creation go through a circuit breaker.
type Client struct {
	url     string
	cfg     settings
	logger  *slog.Logger
	breaker *breaker
	status  atomic.Int32

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewClient creates a disconnected client for url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c := &Client{
		url:     url,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "natsclient"),
		breaker: newBreaker(cfg.breakerThreshold, cfg.maxBackoff),
	}
	c.setStatus(StatusDisconnected)
	return c, nil
}

func (c *Client) URL() string {
	return c.url
}

// Status reports StatusCircuitOpen while the breaker is open, and the last
// observed connection state otherwise.
func (c *Client) Status() ConnectionStatus {
	if c.breaker.open() {
		return StatusCircuitOpen
	}
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures is the number of failures since the last success.
func (c *Client) Failures() int32 {
	return c.breaker.failures()
}

// Backoff is how long the circuit stays open on its next trip.
func (c *Client) Backoff() time.Duration {
	return c.breaker.nextBackoff()
}

func (c *Client) recordFailure() {
	if tripped, wait := c.breaker.fail(); tripped {
		c.logger.Warn("Circuit breaker opened", "backoff", wait)
	}
}

func (c *Client) recordSuccess() {
	c.breaker.reset()
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.maxReconnects),
		nats.ReconnectWait(c.cfg.reconnectWait),
		nats.PingInterval(c.cfg.pingInterval),
		nats.Timeout(c.cfg.timeout),
		nats.DrainTimeout(c.cfg.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(func(*nats.Conn) { c.setStatus(StatusDisconnected) }),
	}
	if c.cfg.username != "" && c.cfg.password != "" {
		opts = append(opts, nats.UserInfo(c.cfg.username, c.cfg.password))
	}
	if c.cfg.token != "" {
		opts = append(opts, nats.Token(c.cfg.token))
	}
	if c.cfg.name != "" {
		opts = append(opts, nats.Name(c.cfg.name))
	}
	if c.cfg.tls != nil {
		opts = append(opts, nats.Secure(c.cfg.tls))
	}
	return opts
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Error("Disconnected from NATS", "error", err)
	if c.cfg.onDisconnect != nil {
		c.cfg.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
	if c.cfg.onReconnect != nil {
		c.cfg.onReconnect()
	}
}

type dialResult struct {
	conn *nats.Conn
	js   jetstream.JetStream
	err  error
}

func (c *Client) dial() dialResult {
	conn, err := nats.Connect(c.url, c.natsOptions()...)
	if err != nil {
		return dialResult{err: err}
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return dialResult{err: err}
	}
	return dialResult{conn: conn, js: js}
}

// Connect dials the server and sets up JetStream. It fails fast with
// ErrCircuitOpen while the breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.open() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	done := make(chan dialResult, 1)
	go func() { done <- c.dial() }()

	var res dialResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The dial may still succeed; close whatever it produces.
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.setStatus(StatusDisconnected)
		c.recordFailure()
		if c.breaker.open() {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn, c.js = res.conn, res.js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.recordSuccess()
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// WaitForConnection polls until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close unsubscribes, drains and closes the connection and forgets the
// credentials. Later calls return the first call's result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.shutdown(ctx)
	})
	return c.closeErr
}

func (c *Client) shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drain(ctx); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn, c.js = nil, nil
	}

	c.cfg.username, c.cfg.password, c.cfg.token = "", "", ""
	c.setStatus(StatusDisconnected)

	for _, err := range errs {
		c.logger.Error("Close failed", "error", err)
	}
	return stderrors.Join(errs...)
}

// drain waits for Drain, bounded by the drain timeout and ctx's deadline.
func (c *Client) drain(ctx context.Context) error {
	limit := c.cfg.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		limit = min(limit, max(time.Until(deadline), 0))
	}

	done := make(chan error, 1)
	conn := c.conn
	go func() { done <- conn.Drain() }()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", limit), "Client", "Close", "drain")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain cancelled")
	}
}

func (c *Client) connected() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Publish sends data on subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Subscribe calls handler for every message on subject until Close. Each call
// gets a context derived from ctx with a 30 second timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureBucket returns the KV bucket named cfg.Bucket, creating it with cfg
// when it does not exist yet. An existing bucket keeps its configuration.
func (c *Client) EnsureBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	switch c.Status() {
	case StatusConnected:
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	default:
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debug("Using existing KV bucket", "bucket", cfg.Bucket)
		c.recordSuccess()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		// Another manager created it first.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureBucket", "create bucket "+cfg.Bucket)
	}

	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket, "history", cfg.History, "replicas", cfg.Replicas)
	c.recordSuccess()
	return bucket, nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
