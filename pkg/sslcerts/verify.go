package sslcerts

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/c360/certmgr/errors"
)

// Reason classifies why a certificate/key pair failed validation.
type Reason string

const (
	ReasonExpired     Reason = "expired"
	ReasonMalformed   Reason = "malformed"
	ReasonKeyMismatch Reason = "key_mismatch"
	ReasonNotYetValid Reason = "not_yet_valid"
	ReasonUntrusted   Reason = "untrusted"
	ReasonMissingKey  Reason = "missing_key"
	ReasonMissingCert Reason = "missing_cert"
)

// ValidationError reports a failed pair validation.
type ValidationError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(reason Reason, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...), Err: err}
}

// ReasonOf extracts the validation reason from err, or "" if err is not a
// *ValidationError.
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// IsExpired reports whether err is a validation failure caused by expiry.
func IsExpired(err error) bool {
	return ReasonOf(err) == ReasonExpired
}

// VerifyTLS checks that keyPEM parses, certPEM parses, the key belongs to the
// certificate and the certificate is inside its validity window. On success
// it returns the whole days left before expiry.
func (s *SSLCerts) VerifyTLS(certPEM, keyPEM string) (int, error) {
	if strings.TrimSpace(keyPEM) == "" {
		return 0, invalid(ReasonMissingKey, nil, "private key is missing")
	}
	if strings.TrimSpace(certPEM) == "" {
		return 0, invalid(ReasonMissingCert, nil, "certificate is missing")
	}

	key, err := certcrypto.ParsePEMPrivateKey([]byte(keyPEM))
	if err != nil {
		return 0, invalid(ReasonMalformed, err, "Invalid private key: %v", err)
	}
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return 0, invalid(ReasonMalformed, err, "Invalid certificate: %v", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok || !publicKeysEqual(cert.PublicKey, signer.Public()) {
		return 0, invalid(ReasonKeyMismatch, nil, "Private key and certificate do not match up")
	}

	return s.checkWindow(cert)
}

func (s *SSLCerts) checkWindow(cert *x509.Certificate) (int, error) {
	now := s.now()
	org, cn := issuerOf(cert)
	if now.Before(cert.NotBefore) {
		return 0, invalid(ReasonNotYetValid, nil, "Certificate issued by \"%s/%s\" is not valid before %s",
			org, cn, cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return 0, invalid(ReasonExpired, nil, "Certificate issued by \"%s/%s\" expired on %s",
			org, cn, cert.NotAfter.UTC().Format(time.RFC3339))
	}
	return daysBetween(now, cert.NotAfter), nil
}

// VerifyIssuedByRoot checks that certPEM was signed by the installed root.
func (s *SSLCerts) VerifyIssuedByRoot(certPEM string) error {
	s.mu.RLock()
	root := s.rootCert
	s.mu.RUnlock()
	if root == nil {
		return errors.Wrap(errors.ErrNotInitialized, "SSLCerts", "VerifyIssuedByRoot", "load root")
	}

	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return invalid(ReasonMalformed, err, "Invalid certificate: %v", err)
	}
	if err := cert.CheckSignatureFrom(root); err != nil {
		return invalid(ReasonUntrusted, err, "Certificate is not signed by the cephadm root CA: %v", err)
	}
	return nil
}

// IssuedByRoot reports whether certPEM chains to the installed root.
func (s *SSLCerts) IssuedByRoot(certPEM string) bool {
	return s.VerifyIssuedByRoot(certPEM) == nil
}

// DaysToExpiration returns the whole days until certPEM expires; negative
// once it has expired.
func (s *SSLCerts) DaysToExpiration(certPEM string) (int, error) {
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return 0, invalid(ReasonMalformed, err, "Invalid certificate: %v", err)
	}
	return daysBetween(s.now(), cert.NotAfter), nil
}

// IssuerInfo returns the issuer organization and common name of certPEM.
func (s *SSLCerts) IssuerInfo(certPEM string) (org, cn string, err error) {
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return "", "", invalid(ReasonMalformed, err, "Invalid certificate: %v", err)
	}
	org, cn = issuerOf(cert)
	return org, cn, nil
}

// Details is the operator-facing summary of a certificate. It never holds
// key material.
type Details struct {
	SubjectCN    string    `json:"subject_cn"`
	IssuerOrg    string    `json:"issuer_org"`
	IssuerCN     string    `json:"issuer_cn"`
	SANs         []string  `json:"sans"`
	Serial       string    `json:"serial"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiration"`
}

// Inspect parses certPEM into Details.
func (s *SSLCerts) Inspect(certPEM string) (Details, error) {
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return Details{}, invalid(ReasonMalformed, err, "Invalid certificate: %v", err)
	}

	sans := append([]string(nil), cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	org, cn := issuerOf(cert)
	return Details{
		SubjectCN:    cert.Subject.CommonName,
		IssuerOrg:    org,
		IssuerCN:     cn,
		SANs:         sans,
		Serial:       cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DaysToExpiry: daysBetween(s.now(), cert.NotAfter),
	}, nil
}

// Domains lists the DNS identities of certPEM (CN first, then SANs).
func Domains(certPEM string) ([]string, error) {
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return nil, err
	}
	return certcrypto.ExtractDomains(cert), nil
}

func issuerOf(cert *x509.Certificate) (org, cn string) {
	if len(cert.Issuer.Organization) > 0 {
		org = cert.Issuer.Organization[0]
	}
	return org, cert.Issuer.CommonName
}

// daysBetween floors toward negative infinity so an expired certificate
// never reports 0 days left.
func daysBetween(from, to time.Time) int {
	d := to.Sub(from)
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}
