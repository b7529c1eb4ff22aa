package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/certmgr/pkg/retry"
)

var (
	ErrKVKeyNotFound   = errors.New("kv: key not found")
	ErrKVValueTooLarge = errors.New("kv: value exceeds maximum size")
)

// KVEntry is a value together with the bucket revision that wrote it.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes a KVStore.
type KVOptions struct {
	MaxRetries    int           // extra attempts for a failed Put
	RetryDelay    time.Duration // first retry delay, doubled per attempt
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per operation; Watch is exempt
	MaxValueSize  int           // 0 disables the check
}

// DefaultKVOptions returns the defaults used by the certificate store.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    3,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1 << 20,
	}
}

// KVOption adjusts KVOptions.
type KVOption func(*KVOptions)

func WithMaxValueSize(n int) KVOption {
	return func(o *KVOptions) { o.MaxValueSize = n }
}

func WithOperationTimeout(d time.Duration) KVOption {
	return func(o *KVOptions) { o.Timeout = d }
}

// WithPutRetries sets how many times a failed Put is retried.
func WithPutRetries(n int) KVOption {
	return func(o *KVOptions) { o.MaxRetries = max(n, 0) }
}

// KVStore is a thin layer over a JetStream bucket: timeouts, Put retries,
// value size limits and not-found normalization.
type KVStore struct {
	bucket jetstream.KeyValue
	opts   KVOptions
	logger *slog.Logger
}

// NewKVStore wraps bucket. It logs through the client's logger.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...KVOption) *KVStore {
	o := DefaultKVOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &KVStore{
		bucket: bucket,
		opts:   o,
		logger: c.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.opts.Timeout)
}

func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

// Get returns ErrKVKeyNotFound for missing or deleted keys.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	switch {
	case IsKVNotFoundError(err):
		return nil, ErrKVKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes value unconditionally, retrying with jittered backoff.
// Oversized values fail without a write.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.opts.MaxValueSize > 0 && len(value) > kv.opts.MaxValueSize {
		return 0, fmt.Errorf("kv put %s (%d bytes): %w", key, len(value), ErrKVValueTooLarge)
	}

	policy := retry.Config{
		MaxAttempts:  kv.opts.MaxRetries + 1,
		InitialDelay: kv.opts.RetryDelay,
		MaxDelay:     kv.opts.MaxRetryDelay,
		Multiplier:   2,
		AddJitter:    true,
	}
	rev, err := retry.DoWithResult(ctx, policy, func() (uint64, error) {
		opCtx, cancel := kv.withTimeout(ctx)
		defer cancel()
		return kv.bucket.Put(opCtx, key, value)
	})
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Delete places a delete marker on key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	err := kv.bucket.Delete(ctx, key)
	switch {
	case IsKVNotFoundError(err):
		return ErrKVKeyNotFound
	case err != nil:
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// Keys lists live keys. An empty bucket is not an error.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// Watch delivers changes under pattern made after the call. The watcher lives
// as long as ctx.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	w, err := kv.bucket.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return w, nil
}

// IsKVNotFoundError matches both our sentinel and the server's "key not
// found" (API error 10037).
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}
