package tlsobject

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/storage"
)

// KeyPrefix is the storage key prefix shared by both stores.
const KeyPrefix = "cert_store."

// Target names the host or service a HOST/SERVICE scoped object belongs to.
// The zero Target addresses GLOBAL objects.
type Target struct {
	Service string
	Host    string
}

// String returns whichever qualifier is set.
func (t Target) String() string {
	if t.Service != "" {
		return t.Service
	}
	return t.Host
}

// Entry is one flattened store element. Target is empty for GLOBAL objects.
type Entry struct {
	Name   string
	Scope  Scope
	Target string
	Object TLSObject
}

// Store keeps either certificates or keys, each name shaped by its scope and
// persisted as one JSON document per name.
type Store struct {
	kind    Kind
	backend storage.Store
	logger  *slog.Logger

	mu       sync.RWMutex
	entities map[string]entity
}

// NewStore creates an empty store for kind. Call Load to populate it.
func NewStore(kind Kind, backend storage.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kind:     kind,
		backend:  backend,
		logger:   logger.With("store", kind.String()),
		entities: make(map[string]entity),
	}
}

// Kind reports whether the store holds certificates or keys.
func (s *Store) Kind() Kind {
	return s.kind
}

func (s *Store) prefix() string {
	return KeyPrefix + s.kind.String() + "."
}

func (s *Store) storageKey(name string) string {
	return s.prefix() + name
}

// UnreadableError names the entries Load could not read from the backend.
// Those names are loaded as absent.
type UnreadableError struct {
	Names []string
	Err   error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("unreadable entries %s: %v", strings.Join(e.Names, ", "), e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// Has reports whether name is among the unreadable entries.
func (e *UnreadableError) Has(name string) bool {
	return slices.Contains(e.Names, name)
}

// Load rebuilds the in-memory state from the backend. Undecodable entries are
// logged and treated as absent. Backend read failures also leave the name
// absent; every other name still loads and the failures come back as an
// *UnreadableError.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.List(ctx, s.prefix())
	if err != nil {
		return errors.WrapTransient(err, "TLSObjectStore", "Load", "list "+s.kind.String()+" entries")
	}

	loaded := make(map[string]entity, len(keys))
	var (
		unreadable []string
		readErrs   []error
	)
	for _, key := range keys {
		name := strings.TrimPrefix(key, s.prefix())
		scope := ScopeOf(s.kind, name)
		if scope == ScopeUnknown {
			s.logger.Debug("Ignoring unknown stored entry", "key", key)
			continue
		}

		data, err := s.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, errors.ErrKeyNotFound) {
				continue
			}
			s.logger.Error("Failed to read stored entry", "name", name, "error", err)
			unreadable = append(unreadable, name)
			readErrs = append(readErrs, err)
			continue
		}

		ent, err := decodeEntity(s.kind, scope, data)
		if err != nil {
			s.logger.Warn("Ignoring corrupt stored entry", "name", name, "error", err)
			continue
		}
		if !ent.empty() {
			loaded[name] = ent
		}
	}

	s.entities = loaded
	if len(readErrs) > 0 {
		return errors.WrapTransient(&UnreadableError{Names: unreadable, Err: stderrors.Join(readErrs...)},
			"TLSObjectStore", "Load", "read entries")
	}
	return nil
}

// resolve validates name and returns its scope and qualifier for target.
func (s *Store) resolve(name string, target Target) (Scope, string, error) {
	scope := ScopeOf(s.kind, name)
	switch scope {
	case ScopeGlobal:
		return scope, "", nil
	case ScopeHost:
		if target.Host == "" {
			return scope, "", fmt.Errorf("%s %q needs a host: %w", s.kind, name, errors.ErrMissingQualifier)
		}
		return scope, target.Host, nil
	case ScopeService:
		if target.Service == "" {
			return scope, "", fmt.Errorf("%s %q needs a service: %w", s.kind, name, errors.ErrMissingQualifier)
		}
		return scope, target.Service, nil
	default:
		return scope, "", fmt.Errorf("%s %q: %w", s.kind, name, errors.ErrUnknownEntity)
	}
}

// Get returns the object stored for name and target, or nil when absent.
func (s *Store) Get(name string, target Target) (TLSObject, error) {
	_, qualifier, err := s.resolve(name, target)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch ent := s.entities[name].(type) {
	case single:
		return ent.obj, nil
	case byQualifier:
		return ent[qualifier], nil
	default:
		return nil, nil
	}
}

// Save upserts payload for name and target and persists the whole entity
// before it becomes visible to readers.
func (s *Store) Save(ctx context.Context, name, payload string, target Target, userMade bool) error {
	scope, qualifier, err := s.resolve(name, target)
	if err != nil {
		return err
	}
	obj := New(s.kind, payload, userMade)

	s.mu.Lock()
	defer s.mu.Unlock()

	var next entity
	if scope == ScopeGlobal {
		next = single{obj: obj}
	} else {
		current, _ := s.entities[name].(byQualifier)
		next = current.with(qualifier, obj)
	}
	return s.commit(ctx, name, next)
}

// Remove deletes the object for name and target. Absent objects are ignored.
func (s *Store) Remove(ctx context.Context, name string, target Target) error {
	scope, qualifier, err := s.resolve(name, target)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[name]
	if !ok {
		return nil
	}

	var next entity
	if scope == ScopeGlobal {
		next = single{}
	} else {
		bq, _ := current.(byQualifier)
		if _, present := bq[qualifier]; !present {
			return nil
		}
		next = bq.without(qualifier)
	}
	return s.commit(ctx, name, next)
}

// commit persists next and swaps it in. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, name string, next entity) error {
	key := s.storageKey(name)
	if next.empty() {
		if err := s.backend.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "TLSObjectStore", "commit", "delete "+key)
		}
		delete(s.entities, name)
		return nil
	}

	data, err := next.encode()
	if err != nil {
		return errors.Wrap(err, "TLSObjectStore", "commit", "encode "+name)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return errors.Wrap(err, "TLSObjectStore", "commit", "persist "+key)
	}
	s.entities[name] = next
	return nil
}

// List flattens every stored object, sorted by name then target.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for name, ent := range s.entities {
		scope := ScopeOf(s.kind, name)
		switch e := ent.(type) {
		case single:
			out = append(out, Entry{Name: name, Scope: scope, Object: e.obj})
		case byQualifier:
			for q, obj := range e {
				out = append(out, Entry{Name: name, Scope: scope, Target: q, Object: obj})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// DetermineTarget interprets an opaque target string according to the scope
// of name: a service for SERVICE names, a host for HOST names, nothing otherwise.
func (s *Store) DetermineTarget(name, target string) Target {
	return DetermineTarget(s.kind, name, target)
}

// DetermineTarget is the store-independent form of Store.DetermineTarget.
func DetermineTarget(kind Kind, name, target string) Target {
	switch ScopeOf(kind, name) {
	case ScopeService:
		return Target{Service: target}
	case ScopeHost:
		return Target{Host: target}
	default:
		return Target{}
	}
}

// Watch reloads the store whenever the backend reports a change under the
// store's prefix. It blocks until ctx is done. Backends that cannot watch
// make Watch return immediately.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.backend.(storage.Watcher)
	if !ok {
		s.logger.Info("Storage backend does not support watching; external changes need a restart")
		return nil
	}

	changes, err := w.Watch(ctx, s.prefix())
	if err != nil {
		return errors.WrapTransient(err, "TLSObjectStore", "Watch", "watch "+s.prefix())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			s.logger.Debug("Store changed, reloading", "key", change.Key, "deleted", change.Deleted)
			if err := s.Load(ctx); err != nil {
				s.logger.Error("Reload after change failed", "error", err)
			}
		}
	}
}
