package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// settings holds everything a ClientOption can change.
type settings struct {
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	breakerThreshold int32
	maxBackoff       time.Duration

	name     string
	username string
	password string
	token    string
	tls      *tls.Config

	onDisconnect func(error)
	onReconnect  func()
}

func defaultSettings() settings {
	return settings{
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		breakerThreshold: defaultBreakerThreshold,
		maxBackoff:       time.Minute,
	}
}

// ClientOption configures a Client.
type ClientOption func(*settings) error

// WithLogger routes client logs through logger. A nil logger keeps slog.Default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMaxReconnects caps reconnect attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(s *settings) error {
		s.maxReconnects = n
		return nil
	}
}

func WithReconnectWait(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.reconnectWait = d
		return nil
	}
}

func WithPingInterval(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.pingInterval = d
		return nil
	}
}

// WithTimeout sets the dial timeout. It must be positive.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		s.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.drainTimeout = d
		return nil
	}
}

// WithCircuitBreaker sets how many consecutive failures open the circuit and
// the longest the circuit stays open. Zero values keep the defaults.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(s *settings) error {
		if threshold < 0 || maxBackoff < 0 {
			return fmt.Errorf("circuit breaker settings must not be negative")
		}
		if threshold > 0 {
			s.breakerThreshold = threshold
		}
		if maxBackoff > 0 {
			s.maxBackoff = max(maxBackoff, initialBackoff)
		}
		return nil
	}
}

func WithClientName(name string) ClientOption {
	return func(s *settings) error {
		s.name = name
		return nil
	}
}

// WithCredentials authenticates with a user and password. Both are required.
func WithCredentials(username, password string) ClientOption {
	return func(s *settings) error {
		s.username = username
		s.password = password
		return nil
	}
}

func WithToken(token string) ClientOption {
	return func(s *settings) error {
		s.token = token
		return nil
	}
}

// WithTLSConfig dials the server over TLS. A nil config leaves TLS off.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(s *settings) error {
		s.tls = cfg
		return nil
	}
}

// WithDisconnectCallback runs fn when an established connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(s *settings) error {
		s.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback runs fn after the connection is restored.
func WithReconnectCallback(fn func()) ClientOption {
	return func(s *settings) error {
		s.onReconnect = fn
		return nil
	}
}
