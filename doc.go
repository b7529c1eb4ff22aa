// Package certmgr is the root of a certificate lifecycle manager for a
// cluster of daemons and services.
//
// The manager owns a self-signed root CA, issues leaf certificates signed by
// it for hosts and services, stores user-provided certificates and keys next
// to its own, and periodically checks everything it holds. Certificates close
// to expiry are renewed when the manager issued them and reported when an
// operator supplied them. A health check lists whatever still needs attention.
//
// # Layout
//
//	certmgr/           Manager: root CA, prepare, get/save/remove, sweep
//	tlsobject/         named certificate and key entries, scoped per target
//	pkg/sslcerts/      key generation, signing and certificate verification
//	pkg/tlsutil/       tls.Config builders for the API and NATS
//	storage/           Store interface; kvstore (JetStream KV) and memory
//	natsclient/        NATS connection with circuit breaker and KV helpers
//	gateway/http/      management REST API
//	health/            named health checks and component status
//	metric/            Prometheus collectors and scrape endpoint
//	config/            layered JSON/YAML configuration with schema checks
//	cmd/certmgr/       the daemon
//
// # Storage keys
//
// Entries live under "cert_store.cert.<name>" and "cert_store.key.<name>".
// Each value is a JSON document holding either a single entry (global
// scope) or a map of host or service name to entry.
//
// # Running
//
//	certmgr -config /etc/certmgr/config.yaml
//
// With store.backend set to "kv" the manager persists into a NATS JetStream
// bucket and publishes a reconfiguration notice whenever a sweep renews a
// certificate. With "memory" nothing survives a restart.
package certmgr
