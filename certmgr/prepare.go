package certmgr

import (
	"context"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/tlsobject"
)

// PrepareRequest names the certificate and key a daemon needs and the
// identities the certificate must carry if it has to be issued.
type PrepareRequest struct {
	CertName      string   `json:"cert_name"`
	KeyName       string   `json:"key_name"`
	HostFQDNs     []string `json:"host_fqdns,omitempty"`
	HostIPs       []string `json:"host_ips,omitempty"`
	CustomSANs    []string `json:"custom_sans,omitempty"`
	TargetHost    string   `json:"target_host,omitempty"`
	TargetService string   `json:"target_service,omitempty"`
}

func (r PrepareRequest) target() tlsobject.Target {
	return tlsobject.Target{Service: r.TargetService, Host: r.TargetHost}
}

// qualifier returns the part of target that addresses name in a store of kind.
func qualifier(kind tlsobject.Kind, name string, target tlsobject.Target) string {
	switch tlsobject.ScopeOf(kind, name) {
	case tlsobject.ScopeService:
		return target.Service
	case tlsobject.ScopeHost:
		return target.Host
	default:
		return ""
	}
}

// PrepareCertificates returns a usable cert/key pair for a daemon. A valid
// stored pair is returned as is. A bad self-generated pair (or a missing
// one) is replaced by a fresh certificate signed by the root. A bad
// user-made pair is never replaced: it is reported through health and the
// call returns empty strings with a nil error. The error is reserved for
// storage and crypto failures.
func (m *Manager) PrepareCertificates(ctx context.Context, req PrepareRequest) (certPEM, keyPEM string, err error) {
	if err := m.ready("PrepareCertificates"); err != nil {
		return "", "", err
	}
	if req.CertName == "" || req.KeyName == "" {
		m.logger.Error("Certificate preparation called without names",
			"cert", req.CertName, "key", req.KeyName)
		return "", "", nil
	}

	m.pairMu.Lock()
	defer m.pairMu.Unlock()

	target := req.target()
	qual := qualifier(tlsobject.KindCert, req.CertName, target)

	cert, err := m.certs.Get(req.CertName, target)
	if err != nil {
		return "", "", errors.WrapInvalid(err, "CertMgr", "PrepareCertificates", "resolve "+req.CertName)
	}
	key, err := m.keys.Get(req.KeyName, target)
	if err != nil {
		return "", "", errors.WrapInvalid(err, "CertMgr", "PrepareCertificates", "resolve "+req.KeyName)
	}

	if cert != nil || key != nil {
		var certData, keyData string
		userMade := false
		if cert != nil {
			certData = cert.Payload()
			userMade = cert.UserMade()
		}
		if key != nil {
			keyData = key.Payload()
			userMade = userMade || key.UserMade()
		}

		info := m.validate(req.CertName, qual, certData, keyData, userMade)
		switch {
		case info.healthy():
			m.resolveProblem(req.CertName, qual)
			return certData, keyData, nil
		case userMade:
			m.logger.Warn("User-provided certificate needs attention",
				"cert", req.CertName, "target", qual, "error", info.ErrorInfo, "days_left", info.DaysToExpiration)
			m.recordProblem(info)
			return "", "", nil
		default:
			m.logger.Info("Replacing self-generated certificate",
				"cert", req.CertName, "target", qual, "reason", info.Status(), "error", info.ErrorInfo)
		}
	}

	certPEM, keyPEM, err = m.ssl.GenerateCert(sslcerts.CertRequest{
		HostFQDNs:    req.HostFQDNs,
		NodeIPs:      req.HostIPs,
		CustomSANs:   req.CustomSANs,
		ValidityDays: m.cfg.CertValidityDays,
	})
	if err != nil {
		m.recordRenewal(req.CertName, err)
		return "", "", errors.Wrap(err, "CertMgr", "PrepareCertificates", "issue "+req.CertName)
	}
	if err := m.certs.Save(ctx, req.CertName, certPEM, target, false); err != nil {
		m.recordRenewal(req.CertName, err)
		return "", "", err
	}
	if err := m.keys.Save(ctx, req.KeyName, keyPEM, target, false); err != nil {
		m.recordRenewal(req.CertName, err)
		return "", "", err
	}

	m.recordRenewal(req.CertName, nil)
	m.resolveProblem(req.CertName, qual)
	m.logger.Info("Issued certificate", "cert", req.CertName, "target", qual)
	return certPEM, keyPEM, nil
}

func (m *Manager) recordRenewal(cert string, err error) {
	if m.metrics != nil {
		m.metrics.RecordRenewal(cert, err)
	}
}
