// Package tlsutil turns security settings and PEM material into tls.Config
// values for the management API and the NATS connection.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/pkg/security"
)

// minVersion maps "1.3" to TLS 1.3. Everything else, including "", is 1.2.
func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// appendCAs adds PEM certificates from files and from pems to pool. Every
// source must contribute at least one certificate.
func appendCAs(pool *x509.CertPool, files []string, pems []string, method string) error {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", method, "read CA file "+file)
		}
		if !pool.AppendCertsFromPEM(data) {
			return errors.WrapFatal(errors.ErrParsingFailed, "tlsutil", method, "parse CA file "+file)
		}
	}
	for i, p := range pems {
		if !pool.AppendCertsFromPEM([]byte(p)) {
			return errors.WrapFatal(errors.ErrParsingFailed, "tlsutil", method, fmt.Sprintf("parse CA bundle %d", i))
		}
	}
	return nil
}

// LoadServerTLSConfig reads the API certificate from cfg's files. It returns
// nil when TLS is disabled.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: minVersion(cfg.MinVersion)}, nil
}

// ServerTLSConfigFromPEM builds a server config from certificate material
// held in memory, such as a certificate signed by the root CA.
func ServerTLSConfigFromPEM(certPEM, keyPEM, version string) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "ServerTLSConfigFromPEM", "parse key pair")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: minVersion(version)}, nil
}

// ApplyMTLS turns on client certificate verification. Trusted CAs are the
// configured files plus extraCAPEM, usually the root CA.
func ApplyMTLS(tlsConfig *tls.Config, cfg security.ServerMTLSConfig, extraCAPEM ...string) error {
	if !cfg.Enabled {
		return nil
	}

	pool := x509.NewCertPool()
	if err := appendCAs(pool, cfg.ClientCAFiles, extraCAPEM, "ApplyMTLS"); err != nil {
		return err
	}
	tlsConfig.ClientCAs = pool
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if len(cfg.AllowedClientCNs) == 0 {
		return nil
	}
	allowed := slices.Clone(cfg.AllowedClientCNs)
	required := cfg.RequireClientCert
	tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
		if len(chains) == 0 && !required {
			return nil
		}
		return checkClientCN(chains, allowed)
	}
	return nil
}

func checkClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}
	cn := chains[0][0].Subject.CommonName
	if slices.Contains(allowed, cn) {
		return nil
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", cn)
}

// LoadClientTLSConfig builds the NATS client config. It returns nil when
// client TLS is disabled. The system pool is extended with cfg.CAFiles and
// extraCAPEM.
func LoadClientTLSConfig(cfg security.ClientTLSConfig, extraCAPEM ...string) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if err := appendCAs(pool, cfg.CAFiles, extraCAPEM, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		RootCAs:            pool,
		MinVersion:         minVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}
	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
