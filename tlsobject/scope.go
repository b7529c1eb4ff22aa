package tlsobject

import "strings"

// Scope classifies how many instances of a named object exist.
type Scope int

const (
	ScopeUnknown Scope = iota
	ScopeGlobal
	ScopeHost
	ScopeService
)

// String returns the scope name as reported to operators.
func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeHost:
		return "host"
	case ScopeService:
		return "service"
	default:
		return "unknown"
	}
}

// Root CA entity names.
const (
	RootCACert = "cephadm_root_ca_cert"
	RootCAKey  = "cephadm_root_ca_key"
)

var knownCerts = map[Scope][]string{
	ScopeService: {
		"rgw_frontend_ssl_cert",
		"iscsi_ssl_cert",
		"ingress_ssl_cert",
		"nvmeof_server_cert",
		"nvmeof_client_cert",
		"nvmeof_root_ca_cert",
	},
	ScopeHost: {
		"grafana_cert",
		"node_exporter_cert",
	},
	ScopeGlobal: {
		"mgmt_gw_cert",
		"oauth2_proxy_cert",
		RootCACert,
	},
}

var knownKeys = map[Scope][]string{
	ScopeService: {
		"rgw_frontend_ssl_key",
		"iscsi_ssl_key",
		"ingress_ssl_key",
		"nvmeof_server_key",
		"nvmeof_client_key",
		"nvmeof_encryption_key",
	},
	ScopeHost: {
		"grafana_key",
		"node_exporter_key",
	},
	ScopeGlobal: {
		"mgmt_gw_key",
		"oauth2_proxy_key",
		RootCAKey,
	},
}

var certToService = map[string]string{
	"rgw_frontend_ssl_cert": "rgw",
	"iscsi_ssl_cert":        "iscsi",
	"ingress_ssl_cert":      "ingress",
	"nvmeof_server_cert":    "nvmeof",
	"nvmeof_client_cert":    "nvmeof",
	"nvmeof_root_ca_cert":   "nvmeof",
	"grafana_cert":          "grafana",
	"node_exporter_cert":    "node-exporter",
	"mgmt_gw_cert":          "mgmt-gateway",
	"oauth2_proxy_cert":     "oauth2-proxy",
}

var scopeOrder = []Scope{ScopeGlobal, ScopeHost, ScopeService}

func table(kind Kind) map[Scope][]string {
	if kind == KindKey {
		return knownKeys
	}
	return knownCerts
}

// KnownNames returns a copy of the name table for kind, keyed by scope.
func KnownNames(kind Kind) map[Scope][]string {
	src := table(kind)
	out := make(map[Scope][]string, len(src))
	for scope, names := range src {
		out[scope] = append([]string(nil), names...)
	}
	return out
}

// ScopeOf returns the declared scope of name, or ScopeUnknown.
func ScopeOf(kind Kind, name string) Scope {
	for _, scope := range scopeOrder {
		for _, n := range table(kind)[scope] {
			if n == name {
				return scope
			}
		}
	}
	return ScopeUnknown
}

// CertScope is ScopeOf(KindCert, name).
func CertScope(name string) Scope { return ScopeOf(KindCert, name) }

// KeyScope is ScopeOf(KindKey, name).
func KeyScope(name string) Scope { return ScopeOf(KindKey, name) }

// ServiceForCert returns the service type owning a certificate.
func ServiceForCert(name string) (string, bool) {
	svc, ok := certToService[name]
	return svc, ok
}

// ScopeForService returns the scope of the certificates a service type owns.
// Types that own no certificate yield ScopeUnknown.
func ScopeForService(serviceType string) Scope {
	for _, scope := range scopeOrder {
		for _, name := range knownCerts[scope] {
			if certToService[name] == serviceType {
				return scope
			}
		}
	}
	return ScopeUnknown
}

// KeyNameForCert derives the paired key name ("grafana_cert" -> "grafana_key").
func KeyNameForCert(certName string) string {
	return strings.TrimSuffix(certName, "_cert") + "_key"
}

// CertNameForKey derives the paired certificate name.
func CertNameForKey(keyName string) string {
	return strings.TrimSuffix(keyName, "_key") + "_cert"
}

// ServiceType strips the instance id from a service name ("rgw.zone1" -> "rgw").
func ServiceType(serviceName string) string {
	if i := strings.IndexByte(serviceName, '.'); i >= 0 {
		return serviceName[:i]
	}
	return serviceName
}
