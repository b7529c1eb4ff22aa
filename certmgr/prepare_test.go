package certmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/pkg/sslcerts"
	"github.com/c360/certmgr/testutil"
	"github.com/c360/certmgr/tlsobject"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func grafanaRequest(host string) PrepareRequest {
	return PrepareRequest{
		CertName:   "grafana_cert",
		KeyName:    "grafana_key",
		HostFQDNs:  []string{host + ".example.com"},
		HostIPs:    []string{"10.0.0.11"},
		TargetHost: host,
	}
}

func TestPrepareCertificates_IssuesAndReuses(t *testing.T) {
	metrics := metric.NewMetrics()
	f := newFixture(t, WithMetrics(metrics))
	ctx := context.Background()

	cert1, key1, err := f.mgr.PrepareCertificates(ctx, grafanaRequest("host1"))
	require.NoError(t, err)
	require.NotEmpty(t, cert1)
	require.NotEmpty(t, key1)

	details, err := f.mgr.SSL().Inspect(cert1)
	require.NoError(t, err)
	assert.Equal(t, sslcerts.RootCommonName, details.IssuerCN)
	assert.ElementsMatch(t, []string{"host1.example.com", "10.0.0.11"}, details.SANs)

	cert2, key2, err := f.mgr.PrepareCertificates(ctx, grafanaRequest("host1"))
	require.NoError(t, err)
	assert.Equal(t, cert1, cert2)
	assert.Equal(t, key1, key2)

	stored, err := f.mgr.certs.Get("grafana_cert", tlsobject.Target{Host: "host1"})
	require.NoError(t, err)
	assert.False(t, stored.UserMade())

	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.RenewalsTotal.WithLabelValues("grafana_cert", metric.ResultSuccess)))
}

func TestPrepareCertificates_PerTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cert1, _, err := f.mgr.PrepareCertificates(ctx, grafanaRequest("host1"))
	require.NoError(t, err)
	cert2, _, err := f.mgr.PrepareCertificates(ctx, grafanaRequest("host2"))
	require.NoError(t, err)
	assert.NotEqual(t, cert1, cert2)

	got, err := f.mgr.GetCert("grafana_cert", tlsobject.Target{Host: "host1"})
	require.NoError(t, err)
	assert.Equal(t, cert1, got)
}

func TestPrepareCertificates_EmptyNames(t *testing.T) {
	f := newFixture(t)
	cert, key, err := f.mgr.PrepareCertificates(context.Background(), PrepareRequest{CertName: "grafana_cert"})
	require.NoError(t, err)
	assert.Empty(t, cert)
	assert.Empty(t, key)
}

func TestPrepareCertificates_UnknownName(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.mgr.PrepareCertificates(context.Background(), PrepareRequest{CertName: "foo_cert", KeyName: "foo_key"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestPrepareCertificates_RegeneratesBadSelfGenerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host1 := tlsobject.Target{Host: "host1"}

	oldCert, oldKey := f.issueFromRoot(t, time.Now().Add(-20*24*time.Hour), 10, "host1.example.com")
	require.NoError(t, f.mgr.SaveCert(ctx, "grafana_cert", oldCert, host1, false))
	require.NoError(t, f.mgr.SaveKey(ctx, "grafana_key", oldKey, host1, false))

	cert, key, err := f.mgr.PrepareCertificates(ctx, grafanaRequest("host1"))
	require.NoError(t, err)
	assert.NotEqual(t, oldCert, cert)
	assert.NotEqual(t, oldKey, key)
	assert.True(t, notAfter(t, cert).After(time.Now().Add(365*24*time.Hour)))
}

func TestPrepareCertificates_UserMadeProblem(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *fixture, ca *testutil.CA)
		wantDetail string
	}{
		{
			name: "expired pair",
			setup: func(t *testing.T, f *fixture, ca *testutil.CA) {
				certPEM, keyPEM := ca.IssueExpiringIn(t, -24*time.Hour)
				require.NoError(t, f.mgr.SaveCert(context.Background(), "grafana_cert", certPEM, tlsobject.Target{Host: "host1"}, true))
				require.NoError(t, f.mgr.SaveKey(context.Background(), "grafana_key", keyPEM, tlsobject.Target{Host: "host1"}, true))
			},
			wantDetail: "Certificate 'grafana_cert (host1)' (user-made) has expired",
		},
		{
			name: "cert without key",
			setup: func(t *testing.T, f *fixture, ca *testutil.CA) {
				certPEM, _ := ca.Issue(t, testutil.LeafSpec{})
				require.NoError(t, f.mgr.SaveCert(context.Background(), "grafana_cert", certPEM, tlsobject.Target{Host: "host1"}, true))
			},
			wantDetail: "Certificate 'grafana_cert (host1)' (user-made) is not valid (error: missing key)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f, testutil.NewCA(t, "Example Corp", "Example CA"))
			before := f.rawValue(t, tlsobject.KeyPrefix+"cert.grafana_cert")

			cert, key, err := f.mgr.PrepareCertificates(context.Background(), grafanaRequest("host1"))
			require.NoError(t, err)
			assert.Empty(t, cert)
			assert.Empty(t, key)
			assert.Equal(t, before, f.rawValue(t, tlsobject.KeyPrefix+"cert.grafana_cert"))

			check, ok := f.monitor.Check(CheckName)
			require.True(t, ok)
			assert.Equal(t, []string{tt.wantDetail}, check.Detail)
		})
	}
}
