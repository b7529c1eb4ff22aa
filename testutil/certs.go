package testutil

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// CA is a throwaway certificate authority for building fixtures with
// arbitrary validity windows.
type CA struct {
	CertPEM string
	KeyPEM  string

	cert *x509.Certificate
	key  crypto.Signer
}

// LeafSpec describes a fixture leaf certificate. Zero times default to a
// window of one hour ago to one year from now.
type LeafSpec struct {
	CommonName string
	DNSNames   []string
	IPs        []string
	NotBefore  time.Time
	NotAfter   time.Time
	ClientAuth bool
}

var serial atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(time.Now().UnixNano() + serial.Add(1))
}

// GenerateKey returns an EC P-256 key and its PEM encoding.
func GenerateKey(t testing.TB) (crypto.Signer, string) {
	t.Helper()

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := key.(crypto.Signer)
	return signer, string(certcrypto.PEMEncode(key))
}

// NewCA creates a self-signed CA named cn.
func NewCA(t testing.TB, org, cn string) *CA {
	t.Helper()

	key, keyPEM := GenerateKey(t)
	template := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{org}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	return &CA{
		CertPEM: string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der))),
		KeyPEM:  keyPEM,
		cert:    cert,
		key:     key,
	}
}

// Issue signs a leaf as described and returns its certificate and key PEM.
func (ca *CA) Issue(t testing.TB, leaf LeafSpec) (certPEM, keyPEM string) {
	t.Helper()

	if leaf.NotBefore.IsZero() {
		leaf.NotBefore = time.Now().Add(-time.Hour)
	}
	if leaf.NotAfter.IsZero() {
		leaf.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	if leaf.CommonName == "" {
		leaf.CommonName = "fixture.example.com"
	}

	key, keyPEM := GenerateKey(t)
	template := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: leaf.CommonName},
		DNSNames:     leaf.DNSNames,
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if leaf.ClientAuth {
		template.ExtKeyUsage = append(template.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	}
	for _, ip := range leaf.IPs {
		template.IPAddresses = append(template.IPAddresses, net.ParseIP(ip))
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, key.Public(), ca.key)
	if err != nil {
		t.Fatalf("create leaf certificate: %v", err)
	}
	return string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der))), keyPEM
}

// IssueExpiringIn issues a leaf valid from 30 days ago until now+d. Negative
// d yields an expired certificate.
func (ca *CA) IssueExpiringIn(t testing.TB, d time.Duration) (certPEM, keyPEM string) {
	t.Helper()
	return ca.Issue(t, LeafSpec{
		CommonName: "host1.example.com",
		DNSNames:   []string{"host1.example.com"},
		NotBefore:  time.Now().Add(-30 * 24 * time.Hour),
		NotAfter:   time.Now().Add(d),
	})
}
