package http

import (
	"crypto/tls"

	"github.com/c360/certmgr/certmgr"
	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/pkg/security"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/pkg/tlsutil"
)

// BuildTLSConfig returns the listener TLS configuration, or nil when TLS is
// disabled. Without certificate files the server identity is issued by the
// manager's root CA for hosts, which may mix names and IP addresses.
func BuildTLSConfig(cfg security.ServerTLSConfig, mgr *certmgr.Manager, hosts []string) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		tlsConfig *tls.Config
		err       error
	)
	if cfg.SelfIssued() {
		if mgr == nil || !mgr.SSL().HasRoot() {
			return nil, errors.WrapFatal(errors.ErrNotInitialized, "http", "BuildTLSConfig",
				"self-issued server certificate needs an initialized root CA")
		}
		certPEM, keyPEM, genErr := mgr.SSL().GenerateCert(sslcerts.CertRequest{CustomSANs: hosts})
		if genErr != nil {
			return nil, errors.WrapFatal(genErr, "http", "BuildTLSConfig", "issue server certificate")
		}
		tlsConfig, err = tlsutil.ServerTLSConfigFromPEM(certPEM, keyPEM, cfg.MinVersion)
	} else {
		tlsConfig, err = tlsutil.LoadServerTLSConfig(cfg)
	}
	if err != nil {
		return nil, err
	}

	var extraCAs []string
	if cfg.MTLS.TrustRootCA && mgr != nil && mgr.SSL().HasRoot() {
		extraCAs = append(extraCAs, mgr.SSL().RootCertPEM())
	}
	if err := tlsutil.ApplyMTLS(tlsConfig, cfg.MTLS, extraCAs...); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}
