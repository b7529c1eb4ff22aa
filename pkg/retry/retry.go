package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/certmgr/errors"
)

// NonRetryableError stops Do at the first occurrence.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so Do returns it without another attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config is an exponential backoff policy.
type Config struct {
	MaxAttempts  int           // total attempts; values below 1 mean 1
	InitialDelay time.Duration // before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool // up to +25% per delay
}

// DefaultConfig is the policy for store writes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
}

func (c Config) validate() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative delay or multiplier")
	}
	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay below InitialDelay")
	}
	return c, nil
}

// delay returns the wait before attempt n+1, n counting from 1.
func (c Config) delay(n int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < n && d < float64(c.MaxDelay); i++ {
		d *= c.Multiplier
	}
	wait := time.Duration(min(d, float64(c.MaxDelay)))
	if c.AddJitter && wait >= 4 {
		wait += rand.N(wait / 4)
	}
	return wait
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return IsNonRetryable(err) || errors.IsInvalid(err) || errors.IsFatal(err)
}

// Do calls fn until it succeeds, fails permanently, ctx ends or the attempts
// run out. Errors marked NonRetryable or classified invalid or fatal are
// returned as is.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.validate()
	if err != nil {
		return err
	}

	var last error
	for attempt := 1; ; attempt++ {
		if last = fn(); last == nil {
			return nil
		}
		if permanent(last) {
			return last
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", attempt, last)
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled waiting for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that also return a value. The value of the
// last attempt is returned.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
