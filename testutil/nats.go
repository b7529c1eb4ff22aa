package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// RecordingPublisher stands in for the NATS client wherever only Publish is
// needed. It keeps every message per subject.
type RecordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{messages: make(map[string][][]byte)}
}

// Publish records a copy of data, or returns the error set by FailWith.
func (p *RecordingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[subject] = append(p.messages[subject], append([]byte(nil), data...))
	return nil
}

// FailWith makes Publish return err. FailWith(nil) restores it.
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Messages returns the payloads published on subject, oldest first.
func (p *RecordingPublisher) Messages(subject string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages[subject]...)
}

func (p *RecordingPublisher) Count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[subject])
}

// ErrNoMessage is returned by Await when the deadline passes.
var ErrNoMessage = errors.New("no message published")

// Await polls until subject has a message and returns the newest one.
func (p *RecordingPublisher) Await(ctx context.Context, subject string) ([]byte, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if msgs := p.Messages(subject); len(msgs) > 0 {
			return msgs[len(msgs)-1], nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrNoMessage
		case <-ticker.C:
		}
	}
}

// WaitForMessage is Await with a timeout that fails the test.
func WaitForMessage(t testing.TB, p *RecordingPublisher, subject string, timeout time.Duration) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg, err := p.Await(ctx, subject)
	if err != nil {
		t.Fatalf("waiting for a message on %s: %v", subject, err)
	}
	return msg
}

// AssertNoMessages fails the test if anything was published on subject.
func AssertNoMessages(t testing.TB, p *RecordingPublisher, subject string) {
	t.Helper()
	if n := p.Count(subject); n > 0 {
		t.Fatalf("expected no messages on %s, got %d", subject, n)
	}
}
