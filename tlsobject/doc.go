// Package tlsobject holds certificate and private key material together with
// its provenance, the static scope classification of every known name, and the
// scoped Store persisting them.
//
// Every known name belongs to exactly one scope:
//
//	GLOBAL   one object cluster-wide (mgmt_gw_cert, cephadm_root_ca_cert, ...)
//	HOST     one object per host (grafana_cert, node_exporter_cert, ...)
//	SERVICE  one object per service instance (rgw_frontend_ssl_cert, ...)
//
// Stored values are persisted under cert_store.cert.<name> and
// cert_store.key.<name>. GLOBAL names hold a single JSON record,
// HOST and SERVICE names a JSON object keyed by host or service name:
//
//	cert_store.cert.mgmt_gw_cert  {"cert": "-----BEGIN...", "user_made": false}
//	cert_store.cert.grafana_cert  {"host1": {"cert": "...", "user_made": true}}
//
// A name whose last object is removed is deleted from the backend.
package tlsobject
