package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/certmgr/pkg/security"
	"github.com/c360/certmgr/pkg/sslcerts"
)

// Store backend constants
const (
	StoreBackendMemory = "memory" // In-process map, lost on restart
	StoreBackendKV     = "kv"     // NATS JetStream KV bucket
)

// Config represents the complete application configuration
type Config struct {
	Version  string          `json:"version,omitempty"` // Semantic version of the config document
	NATS     NATSConfig      `json:"nats"`
	Store    StoreConfig     `json:"store"`
	CertMgr  CertMgrConfig   `json:"certmgr"`
	HTTP     HTTPConfig      `json:"http"`
	Metrics  MetricsConfig   `json:"metrics"`
	Security security.Config `json:"security,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs            []string `json:"urls,omitempty"`
	MaxReconnects   int      `json:"max_reconnects,omitempty"`
	ReconnectWait   Duration `json:"reconnect_wait,omitempty"`
	Username        string   `json:"username,omitempty"`
	Password        string   `json:"password,omitempty"`
	Token           string   `json:"token,omitempty"`
	ClientName      string   `json:"client_name,omitempty"`
	ReconfigSubject string   `json:"reconfig_subject,omitempty"`
}

// StoreConfig selects the persistent backend of the certificate store
type StoreConfig struct {
	Backend  string `json:"backend"`
	Bucket   string `json:"bucket,omitempty"`
	History  int    `json:"history,omitempty"`
	Replicas int    `json:"replicas,omitempty"`
}

// CertMgrConfig holds the certificate lifecycle settings
type CertMgrConfig struct {
	// MgrAddr is the manager address embedded as SAN in a generated root CA.
	MgrAddr              string   `json:"mgr_addr"`
	RootCAValidityDays   int      `json:"root_ca_validity_days"`
	CertValidityDays     int      `json:"cert_validity_days"`
	RenewalThresholdDays int      `json:"renewal_threshold_days"`
	AutoRotation         bool     `json:"auto_rotation"`
	CheckInterval        Duration `json:"check_interval"`
	RootKeyType          string   `json:"root_key_type,omitempty"`
	LeafKeyType          string   `json:"leaf_key_type,omitempty"`
}

// HTTPConfig configures the management API listener. TLS comes from
// Security.TLS.Server.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:            []string{"nats://localhost:4222"},
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			ClientName:      "certmgr",
			ReconfigSubject: "certmgr.reconfig",
		},
		Store: StoreConfig{
			Backend: StoreBackendKV,
			Bucket:  "certmgr_store",
			History: 5,
		},
		CertMgr: CertMgrConfig{
			MgrAddr:              "localhost",
			RootCAValidityDays:   sslcerts.DefaultRootValidityDays,
			CertValidityDays:     sslcerts.DefaultLeafValidityDays,
			RenewalThresholdDays: 30,
			AutoRotation:         true,
			CheckInterval:        Duration(time.Hour),
			RootKeyType:          "rsa4096",
			LeafKeyType:          "rsa2048",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8443",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return fmt.Errorf("version: %w", err)
		}
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendKV:
		if len(c.NATS.URLs) == 0 {
			return errors.New("nats.urls is required for the kv store backend")
		}
		if !isValidNATSSubjectPart(c.Store.Bucket) {
			return fmt.Errorf("store.bucket %q is not a valid bucket name", c.Store.Bucket)
		}
	default:
		return fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, StoreBackendKV, StoreBackendMemory)
	}

	if c.NATS.ReconfigSubject != "" && !isValidNATSSubjectPart(c.NATS.ReconfigSubject) {
		return fmt.Errorf("nats.reconfig_subject %q is not a valid subject", c.NATS.ReconfigSubject)
	}

	if err := c.CertMgr.validate(); err != nil {
		return fmt.Errorf("certmgr: %w", err)
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.addr is required when the API is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	return nil
}

func (c CertMgrConfig) validate() error {
	if strings.TrimSpace(c.MgrAddr) == "" {
		return errors.New("mgr_addr is required")
	}
	if c.RootCAValidityDays <= 0 {
		return fmt.Errorf("root_ca_validity_days must be positive, got %d", c.RootCAValidityDays)
	}
	if c.CertValidityDays <= 0 {
		return fmt.Errorf("cert_validity_days must be positive, got %d", c.CertValidityDays)
	}
	if c.RenewalThresholdDays < 0 || c.RenewalThresholdDays >= c.CertValidityDays {
		return fmt.Errorf("renewal_threshold_days must be in [0, %d), got %d",
			c.CertValidityDays, c.RenewalThresholdDays)
	}
	if c.CheckInterval.Std() <= 0 {
		return errors.New("check_interval must be positive")
	}
	if c.RootKeyType != "" {
		if _, err := sslcerts.ParseKeyType(c.RootKeyType); err != nil {
			return fmt.Errorf("root_key_type: %w", err)
		}
	}
	if c.LeafKeyType != "" {
		if _, err := sslcerts.ParseKeyType(c.LeafKeyType); err != nil {
			return fmt.Errorf("leaf_key_type: %w", err)
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects
// and bucket names. Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// validateSecurity validates the security configuration
func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if !server.SelfIssued() {
			if server.CertFile == "" {
				return errors.New("tls.server.cert_file is required when key_file is set")
			}
			if server.KeyFile == "" {
				return errors.New("tls.server.key_file is required when cert_file is set")
			}
			if err := checkPEMFile(server.CertFile, "CERTIFICATE"); err != nil {
				return fmt.Errorf("tls.server.cert_file: %w", err)
			}
			if err := checkPEMFile(server.KeyFile, "PRIVATE KEY"); err != nil {
				return fmt.Errorf("tls.server.key_file: %w", err)
			}
		}

		if server.MinVersion != "" {
			if err := validateTLSVersion(server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}

		for i, caFile := range server.MTLS.ClientCAFiles {
			if err := checkPEMFile(caFile, "CERTIFICATE"); err != nil {
				return fmt.Errorf("tls.server.mtls.client_ca_files[%d]: %w", i, err)
			}
		}
		if server.MTLS.Enabled && len(server.MTLS.ClientCAFiles) == 0 && !server.MTLS.TrustRootCA {
			return errors.New("tls.server.mtls needs client_ca_files or trust_root_ca")
		}
	}

	client := c.Security.TLS.Client
	if client.MTLS.Enabled {
		if client.MTLS.CertFile == "" || client.MTLS.KeyFile == "" {
			return errors.New("tls.client.mtls needs cert_file and key_file")
		}
		if err := checkPEMFile(client.MTLS.CertFile, "CERTIFICATE"); err != nil {
			return fmt.Errorf("tls.client.mtls.cert_file: %w", err)
		}
		if err := checkPEMFile(client.MTLS.KeyFile, "PRIVATE KEY"); err != nil {
			return fmt.Errorf("tls.client.mtls.key_file: %w", err)
		}
	}

	for i, caFile := range client.CAFiles {
		if err := checkPEMFile(caFile, "CERTIFICATE"); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}

	if client.MinVersion != "" {
		if err := validateTLSVersion(client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}

	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, errors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s': %w", part, err)
		}
		nums[i] = n
	}

	return nums[0], nums[1], nums[2], nil
}
