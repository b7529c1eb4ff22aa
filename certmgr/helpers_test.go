package certmgr

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/config"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/storage/memory"
)

type fixture struct {
	backend *memory.Store
	monitor *health.Monitor
	mgr     *Manager
}

func testConfig() config.CertMgrConfig {
	cfg := config.Default().CertMgr
	cfg.RootKeyType = "ec256"
	cfg.LeafKeyType = "ec256"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, backend *memory.Store, monitor *health.Monitor, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithConfig(testConfig()),
		WithLogger(quietLogger()),
		WithHealth(monitor),
		WithSSLCerts(sslcerts.New(sslcerts.WithKeyTypes(certcrypto.EC256, certcrypto.EC256))),
	}
	mgr, err := New(backend, append(base, opts...)...)
	require.NoError(t, err)
	return mgr
}

// newFixture returns an initialized manager over an empty memory store.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{backend: memory.New(), monitor: health.NewMonitor()}
	f.mgr = newManager(t, f.backend, f.monitor, opts...)
	require.NoError(t, f.mgr.Init(context.Background(), "10.0.0.1"))
	return f
}

// issueFromRoot signs a leaf with the manager's root whose validity window
// starts at issuedAt and lasts days.
func (f *fixture) issueFromRoot(t *testing.T, issuedAt time.Time, days int, fqdn string) (certPEM, keyPEM string) {
	t.Helper()
	ssl := sslcerts.New(
		sslcerts.WithKeyTypes(certcrypto.EC256, certcrypto.EC256),
		sslcerts.WithClock(func() time.Time { return issuedAt }),
	)
	root := f.mgr.SSL()
	require.NoError(t, ssl.LoadRootCredentials(root.RootCertPEM(), root.RootKeyPEM()))

	certPEM, keyPEM, err := ssl.GenerateCert(sslcerts.CertRequest{HostFQDNs: []string{fqdn}, ValidityDays: days})
	require.NoError(t, err)
	return certPEM, keyPEM
}

func notAfter(t *testing.T, certPEM string) time.Time {
	t.Helper()
	cert, err := certcrypto.ParsePEMCertificate([]byte(certPEM))
	require.NoError(t, err)
	return cert.NotAfter
}

func (f *fixture) rawValue(t *testing.T, key string) []byte {
	t.Helper()
	data, err := f.backend.Get(context.Background(), key)
	require.NoError(t, err)
	return data
}
