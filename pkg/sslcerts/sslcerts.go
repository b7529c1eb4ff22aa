package sslcerts

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"

	"github.com/c360/certmgr/errors"
)

const (
	// Organization is the subject organization of every issued certificate.
	Organization = "Ceph"
	// RootCommonName is the subject CN of the root CA.
	RootCommonName = "cephadm-root"

	DefaultRootValidityDays = 3650
	DefaultLeafValidityDays = 1095

	// backdate absorbs clock skew between the issuer and relying parties.
	backdate = time.Hour
	day      = 24 * time.Hour
)

// Option configures an SSLCerts.
type Option func(*SSLCerts)

// WithRootValidityDays sets the lifetime of generated root certificates.
func WithRootValidityDays(days int) Option {
	return func(s *SSLCerts) {
		if days > 0 {
			s.rootValidityDays = days
		}
	}
}

// WithLeafValidityDays sets the default lifetime of issued leaf certificates.
func WithLeafValidityDays(days int) Option {
	return func(s *SSLCerts) {
		if days > 0 {
			s.leafValidityDays = days
		}
	}
}

// WithKeyTypes selects the key algorithms for the root and for leaves.
func WithKeyTypes(root, leaf certcrypto.KeyType) Option {
	return func(s *SSLCerts) {
		s.rootKeyType = root
		s.leafKeyType = leaf
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SSLCerts) {
		s.now = now
	}
}

// SSLCerts is the root CA engine: it owns the root credentials, issues and
// renews leaf certificates and validates certificate/key pairs.
type SSLCerts struct {
	rootValidityDays int
	leafValidityDays int
	rootKeyType      certcrypto.KeyType
	leafKeyType      certcrypto.KeyType
	now              func() time.Time

	mu          sync.RWMutex
	rootCert    *x509.Certificate
	rootKey     crypto.Signer
	rootCertPEM string
	rootKeyPEM  string
}

// New creates an engine without root credentials.
func New(opts ...Option) *SSLCerts {
	s := &SSLCerts{
		rootValidityDays: DefaultRootValidityDays,
		leafValidityDays: DefaultLeafValidityDays,
		rootKeyType:      certcrypto.RSA4096,
		leafKeyType:      certcrypto.RSA2048,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseKeyType maps a configuration value such as "rsa2048" or "ec256" to a key type.
func ParseKeyType(s string) (certcrypto.KeyType, error) {
	switch strings.ToLower(s) {
	case "rsa2048":
		return certcrypto.RSA2048, nil
	case "rsa3072":
		return certcrypto.RSA3072, nil
	case "rsa4096":
		return certcrypto.RSA4096, nil
	case "ec256":
		return certcrypto.EC256, nil
	case "ec384":
		return certcrypto.EC384, nil
	default:
		return "", fmt.Errorf("unsupported key type %q: %w", s, errors.ErrInvalidConfig)
	}
}

func newSerial() *big.Int {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:])
}

func generateKey(kt certcrypto.KeyType) (crypto.Signer, error) {
	key, err := certcrypto.GeneratePrivateKey(kt)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("generated key of type %T cannot sign", key)
	}
	return signer, nil
}

func encodeCert(der []byte) string {
	return string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der)))
}

// GenerateRootCert creates and installs a new self-signed root. addr becomes
// an IP or DNS subject alternative name.
func (s *SSLCerts) GenerateRootCert(addr string) error {
	key, err := generateKey(s.rootKeyType)
	if err != nil {
		return errors.WrapFatal(err, "SSLCerts", "GenerateRootCert", "generate root key")
	}

	now := s.now()
	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			CommonName:   RootCommonName,
			Organization: []string{Organization},
		},
		NotBefore:             now.Add(-backdate),
		NotAfter:              now.Add(time.Duration(s.rootValidityDays) * day),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if addr != "" {
		if ip := net.ParseIP(addr); ip != nil {
			template.IPAddresses = []net.IP{ip}
		} else {
			template.DNSNames = []string{addr}
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return errors.WrapFatal(err, "SSLCerts", "GenerateRootCert", "sign root certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return errors.WrapFatal(err, "SSLCerts", "GenerateRootCert", "parse root certificate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCert = cert
	s.rootKey = key
	s.rootCertPEM = encodeCert(der)
	s.rootKeyPEM = string(certcrypto.PEMEncode(key))
	return nil
}

// LoadRootCredentials installs an existing root. The pair must parse, match
// and be a CA certificate; otherwise a fatal configuration error is returned
// and the engine stays without root.
func (s *SSLCerts) LoadRootCredentials(certPEM, keyPEM string) error {
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"SSLCerts", "LoadRootCredentials", "parse root certificate")
	}
	key, err := certcrypto.ParsePEMPrivateKey([]byte(keyPEM))
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"SSLCerts", "LoadRootCredentials", "parse root key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok || !publicKeysEqual(cert.PublicKey, signer.Public()) {
		return errors.WrapFatal(errors.ErrRootCAMismatch, "SSLCerts", "LoadRootCredentials", "match root pair")
	}
	if !cert.IsCA {
		return errors.WrapFatal(fmt.Errorf("%w: root certificate is not a CA", errors.ErrInvalidConfig),
			"SSLCerts", "LoadRootCredentials", "check root certificate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCert = cert
	s.rootKey = signer
	s.rootCertPEM = certPEM
	s.rootKeyPEM = keyPEM
	return nil
}

// HasRoot reports whether root credentials are installed.
func (s *SSLCerts) HasRoot() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootCert != nil
}

// RootCertPEM returns the public root certificate.
func (s *SSLCerts) RootCertPEM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootCertPEM
}

// RootKeyPEM returns the root private key for persistence.
func (s *SSLCerts) RootKeyPEM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootKeyPEM
}

// RootNotAfter returns the expiry of the installed root.
func (s *SSLCerts) RootNotAfter() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rootCert == nil {
		return time.Time{}
	}
	return s.rootCert.NotAfter
}

// CertRequest describes a leaf certificate to issue.
type CertRequest struct {
	HostFQDNs    []string
	NodeIPs      []string
	CustomSANs   []string
	ValidityDays int // 0 selects the engine default
}

// GenerateCert issues a leaf certificate and fresh key signed by the root.
func (s *SSLCerts) GenerateCert(req CertRequest) (certPEM, keyPEM string, err error) {
	var dnsNames []string
	var ips []net.IP

	for _, fqdn := range req.HostFQDNs {
		if fqdn = strings.TrimSpace(fqdn); fqdn != "" {
			dnsNames = appendUnique(dnsNames, fqdn)
		}
	}
	for _, raw := range req.NodeIPs {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return "", "", errors.WrapInvalid(fmt.Errorf("%w: bad IP address %q", errors.ErrInvalidData, raw),
				"SSLCerts", "GenerateCert", "parse node IP")
		}
		ips = appendUniqueIP(ips, ip)
	}
	for _, san := range req.CustomSANs {
		if san = strings.TrimSpace(san); san == "" {
			continue
		}
		if ip := net.ParseIP(san); ip != nil {
			ips = appendUniqueIP(ips, ip)
		} else {
			dnsNames = appendUnique(dnsNames, san)
		}
	}

	var cn string
	switch {
	case len(dnsNames) > 0:
		cn = dnsNames[0]
	case len(ips) > 0:
		cn = ips[0].String()
	default:
		return "", "", errors.WrapInvalid(fmt.Errorf("%w: no host name or IP", errors.ErrInvalidData),
			"SSLCerts", "GenerateCert", "build subject")
	}

	subject := pkix.Name{CommonName: cn, Organization: []string{Organization}}
	return s.issue(subject, dnsNames, ips, req.ValidityDays)
}

// RenewCert re-issues oldCertPEM with the same subject and SANs, a new key and
// a validity window starting now.
func (s *SSLCerts) RenewCert(oldCertPEM string, validityDays int) (certPEM, keyPEM string, err error) {
	old, err := certcrypto.ParsePEMCertificate([]byte(oldCertPEM))
	if err != nil {
		return "", "", errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"SSLCerts", "RenewCert", "parse certificate")
	}
	subject := pkix.Name{
		CommonName:   old.Subject.CommonName,
		Organization: old.Subject.Organization,
	}
	return s.issue(subject, old.DNSNames, old.IPAddresses, validityDays)
}

func (s *SSLCerts) issue(subject pkix.Name, dnsNames []string, ips []net.IP, validityDays int) (string, string, error) {
	s.mu.RLock()
	rootCert, rootKey := s.rootCert, s.rootKey
	s.mu.RUnlock()
	if rootCert == nil {
		return "", "", errors.Wrap(errors.ErrNotInitialized, "SSLCerts", "issue", "load root")
	}
	if validityDays <= 0 {
		validityDays = s.leafValidityDays
	}

	key, err := generateKey(s.leafKeyType)
	if err != nil {
		return "", "", errors.Wrap(err, "SSLCerts", "issue", "generate key")
	}

	now := s.now()
	template := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               subject,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
		NotBefore:             now.Add(-backdate),
		NotAfter:              now.Add(time.Duration(validityDays) * day),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, key.Public(), rootKey)
	if err != nil {
		return "", "", errors.Wrap(err, "SSLCerts", "issue", "sign certificate")
	}
	return encodeCert(der), string(certcrypto.PEMEncode(key)), nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueIP(list []net.IP, ip net.IP) []net.IP {
	for _, existing := range list {
		if existing.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}
