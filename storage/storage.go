package storage

import "context"

// Store is a flat byte store addressed by dotted keys such as
// "cert_store.cert.grafana_cert". Implementations are safe for concurrent
// use; kvstore backs it with a JetStream bucket and memory with a map.
type Store interface {
	// Put overwrites key.
	Put(ctx context.Context, key string, data []byte) error

	// Get fails with errors.ErrKeyNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}

// Change is one write or delete seen by a Watcher.
type Change struct {
	Key     string
	Deleted bool
}

// Watcher streams changes made by other writers until ctx ends, then closes
// the channel.
type Watcher interface {
	Watch(ctx context.Context, prefix string) (<-chan Change, error)
}
