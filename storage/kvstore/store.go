// Package kvstore implements storage.Store on a NATS JetStream KV bucket.
package kvstore

import (
	"context"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/natsclient"
	"github.com/c360/certmgr/storage"
)

// Store adapts a natsclient.KVStore to storage.Store and storage.Watcher.
type Store struct {
	kv *natsclient.KVStore
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New wraps kv.
func New(kv *natsclient.KVStore) *Store {
	return &Store{kv: kv}
}

// BucketOption adjusts the bucket created by Open.
type BucketOption func(*jetstream.KeyValueConfig)

// WithHistory keeps n revisions per key.
func WithHistory(n int) BucketOption {
	return func(c *jetstream.KeyValueConfig) {
		if n > 0 {
			c.History = uint8(min(n, 64))
		}
	}
}

// WithReplicas sets the bucket replication factor.
func WithReplicas(n int) BucketOption {
	return func(c *jetstream.KeyValueConfig) {
		if n > 0 {
			c.Replicas = n
		}
	}
}

// Open creates (or reuses) bucket on client and wraps it.
func Open(ctx context.Context, client *natsclient.Client, bucket string, opts ...BucketOption) (*Store, error) {
	cfg := jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "certificate manager store",
		History:     5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	kv, err := client.EnsureBucket(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "Open", "create bucket "+bucket)
	}
	return New(client.NewKVStore(kv)), nil
}

// Put writes data at key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "kvstore", "Put", "write "+key)
	}
	return nil
}

// Get reads key. Missing keys yield errors.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "kvstore", "Get", "read "+key)
		}
		return nil, errors.WrapTransient(err, "kvstore", "Get", "read "+key)
	}
	return entry.Value, nil
}

// List returns the sorted keys beginning with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "List", "list keys")
	}

	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "kvstore", "Delete", "delete "+key)
	}
	return nil
}

// Watch forwards bucket updates under prefix until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan storage.Change, error) {
	watcher, err := s.kv.Watch(ctx, subjectPattern(prefix))
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "Watch", "watch "+prefix)
	}

	out := make(chan storage.Change, 64)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				change := storage.Change{
					Key:     entry.Key(),
					Deleted: entry.Operation() != jetstream.KeyValuePut,
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// subjectPattern turns a key prefix into a KV watch pattern.
func subjectPattern(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return ">"
	}
	return prefix + ".>"
}
