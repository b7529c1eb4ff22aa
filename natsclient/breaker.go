package natsclient

import (
	"sync"
	"time"
)

const (
	defaultBreakerThreshold = 5
	initialBackoff          = time.Second
)

// breaker trips after threshold consecutive failures and stays open for the
// current backoff. Every trip doubles the backoff, capped at maxBackoff.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration
	now        func() time.Time

	mu          sync.Mutex
	consecutive int32
	total       int32
	backoff     time.Duration
	openUntil   time.Time
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	return &breaker{
		threshold:  threshold,
		maxBackoff: maxBackoff,
		now:        time.Now,
		backoff:    initialBackoff,
	}
}

// fail records a failure and reports whether it tripped the breaker and for
// how long.
func (b *breaker) fail() (tripped bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.consecutive++
	if b.consecutive < b.threshold {
		return false, 0
	}

	wait = b.backoff
	b.openUntil = b.now().Add(wait)
	b.backoff = min(2*wait, b.maxBackoff)
	b.consecutive = 0
	return true, wait
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.total = 0
	b.backoff = initialBackoff
	b.openUntil = time.Time{}
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

func (b *breaker) failures() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *breaker) nextBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}
