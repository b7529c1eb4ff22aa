// Package memory provides an in-process storage.Store backed by a map.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/storage"
)

// Store keeps values in memory. It implements storage.Store and storage.Watcher.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[int]*watcher
	nextID   int
	putErr   error
	getErrs  map[string]error
}

type watcher struct {
	prefix string
	ch     chan storage.Change
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		data:     make(map[string][]byte),
		watchers: make(map[int]*watcher),
	}
}

// Put stores a copy of data.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	value := make([]byte, len(data))
	copy(value, data)
	s.data[key] = value
	s.notify(storage.Change{Key: key})
	return nil
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.getErrs[key]; err != nil {
		return nil, err
	}
	val, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("memory get %s: %w", key, errors.ErrKeyNotFound)
	}
	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

// List returns keys with the given prefix, sorted.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a key. Missing keys are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	s.notify(storage.Change{Key: key, Deleted: true})
	return nil
}

// Watch delivers changes under prefix until ctx is done. Slow readers drop
// notifications rather than block writers.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan storage.Change, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := &watcher{prefix: prefix, ch: make(chan storage.Change, 64)}
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

// SetPutError makes every following Put fail with err (nil restores normal
// behaviour). Used to simulate an unavailable backend.
func (s *Store) SetPutError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// SetGetError makes Get of key fail with err (nil clears it). List still
// reports the key.
func (s *Store) SetGetError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.getErrs, key)
		return
	}
	if s.getErrs == nil {
		s.getErrs = make(map[string]error)
	}
	s.getErrs[key] = err
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// notify must be called with s.mu held.
func (s *Store) notify(change storage.Change) {
	for _, w := range s.watchers {
		if !strings.HasPrefix(change.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- change:
		default:
		}
	}
}
