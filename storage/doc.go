// Package storage defines the Store interface the certificate store persists
// through, plus the optional Watcher interface for change notification.
//
// Two backends exist:
//   - storage/kvstore: NATS JetStream KV bucket (production)
//   - storage/memory: map guarded by a mutex (tests, standalone mode)
//
// Get reports a missing key with an error matching errors.ErrKeyNotFound so
// callers can tell "absent" from "backend unavailable".
package storage
