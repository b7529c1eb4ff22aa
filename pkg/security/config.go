// Package security declares the TLS settings of the certificate manager: the
// management API listener and the NATS connection.
package security

// Config is the "security" section of the configuration document.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerTLSConfig secures the management API. With no CertFile and KeyFile
// the listener presents a certificate issued by the manager's own root CA.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" (default) or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// SelfIssued reports whether the API certificate comes from the root CA.
func (c ServerTLSConfig) SelfIssued() bool {
	return c.CertFile == "" && c.KeyFile == ""
}

// ServerMTLSConfig controls client certificate checks on the API. Callers
// holding a certificate from the manager's root CA are trusted when
// TrustRootCA is set, which is how other cluster daemons authenticate.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	TrustRootCA       bool     `json:"trust_root_ca,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"` // empty allows any verified CN
}

// ClientTLSConfig secures the outgoing NATS connection. CAFiles extend the
// system pool rather than replace it.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // tests only
	MinVersion         string   `json:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig is the certificate presented to the NATS server.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}
