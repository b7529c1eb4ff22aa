package certmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
)

const sweeperComponent = "sweeper"

// Sweeper runs CheckServicesCertificates periodically.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
	logger   *slog.Logger
	status   *health.Monitor
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithStatusMonitor publishes the outcome of every sweep as the "sweeper"
// component of monitor.
func WithStatusMonitor(monitor *health.Monitor) SweeperOption {
	return func(s *Sweeper) {
		s.status = monitor
	}
}

// NewSweeper creates a Sweeper. Non-positive intervals default to one hour.
func NewSweeper(mgr *Manager, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		mgr:      mgr,
		interval: interval,
		logger:   logger.With("component", sweeperComponent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep failures are logged; Run only returns when ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Certificate sweeper started", "interval", s.interval)
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Certificate sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	services, err := s.mgr.CheckServicesCertificates(ctx)
	switch {
	case err == nil:
		if len(services) > 0 {
			s.logger.Info("Services need reconfiguration", "services", services)
		}
	case errors.Is(err, errors.ErrSweepInProgress):
		s.logger.Debug("Skipping tick, previous check still running")
	case ctx.Err() != nil:
	default:
		s.logger.Error("Certificate check failed", "error", err)
	}
	s.report(ctx, err)
}

func (s *Sweeper) report(ctx context.Context, err error) {
	if s.status == nil || ctx.Err() != nil || errors.Is(err, errors.ErrSweepInProgress) {
		return
	}
	s.status.Update(sweeperComponent, health.FromError(sweeperComponent, err))
}
