package certmgr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/storage/memory"
	"github.com/c360/certmgr/testutil"
	"github.com/c360/certmgr/tlsobject"
)

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNew_BadKeyType(t *testing.T) {
	cfg := testConfig()
	cfg.LeafKeyType = "dsa"
	_, err := New(memory.New(), WithConfig(cfg))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestInit_GeneratesAndPersistsRoot(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateGenerated, f.mgr.State())

	rootPEM, err := f.mgr.RootCA()
	require.NoError(t, err)
	assert.Contains(t, rootPEM, "BEGIN CERTIFICATE")

	stored, err := f.mgr.GetCert(tlsobject.RootCACert, tlsobject.Target{})
	require.NoError(t, err)
	assert.Equal(t, rootPEM, stored)

	key, err := f.mgr.GetKey(tlsobject.RootCAKey, tlsobject.Target{})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestInit_ReusesStoredRoot(t *testing.T) {
	f := newFixture(t)
	first, err := f.mgr.RootCA()
	require.NoError(t, err)

	again := newManager(t, f.backend, health.NewMonitor())
	require.NoError(t, again.Init(context.Background(), "10.0.0.2"))
	assert.Equal(t, StateLoaded, again.State())

	second, err := again.RootCA()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInit_TwiceFails(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.Init(context.Background(), ""), errors.ErrAlreadyStarted)
}

func TestInit_BrokenRootIsFatal(t *testing.T) {
	ca1 := testutil.NewCA(t, "Ceph", "cephadm-root")
	ca2 := testutil.NewCA(t, "Ceph", "cephadm-root")

	tests := []struct {
		name    string
		certPEM string
		keyPEM  string
		wantErr error
	}{
		{"cert without key", ca1.CertPEM, "", errors.ErrRootCAIncomplete},
		{"key without cert", "", ca1.KeyPEM, errors.ErrRootCAIncomplete},
		{"mismatched pair", ca1.CertPEM, ca2.KeyPEM, errors.ErrRootCAMismatch},
		{"garbage cert", "not a certificate", ca1.KeyPEM, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := memory.New()
			certs := tlsobject.NewStore(tlsobject.KindCert, backend, quietLogger())
			keys := tlsobject.NewStore(tlsobject.KindKey, backend, quietLogger())
			if tt.certPEM != "" {
				require.NoError(t, certs.Save(ctx, tlsobject.RootCACert, tt.certPEM, tlsobject.Target{}, false))
			}
			if tt.keyPEM != "" {
				require.NoError(t, keys.Save(ctx, tlsobject.RootCAKey, tt.keyPEM, tlsobject.Target{}, false))
			}
			before := backend.Len()

			mgr := newManager(t, backend, health.NewMonitor())
			err := mgr.Init(ctx, "10.0.0.1")
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFailed, mgr.State())
			assert.Equal(t, before, backend.Len(), "root must not be regenerated")

			_, err = mgr.RootCA()
			assert.ErrorIs(t, err, errors.ErrNotInitialized)
		})
	}
}

func TestInit_UnreadableEntries(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantFatal bool
	}{
		{"leaf cert", tlsobject.KeyPrefix + "cert.grafana_cert", false},
		{"leaf key", tlsobject.KeyPrefix + "key.grafana_key", false},
		{"root cert", tlsobject.KeyPrefix + "cert." + tlsobject.RootCACert, true},
		{"root key", tlsobject.KeyPrefix + "key." + tlsobject.RootCAKey, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			host1 := tlsobject.Target{Host: "host1"}
			certPEM, keyPEM := f.issueFromRoot(t, time.Now(), 365, "host1.example.com")
			require.NoError(t, f.mgr.SaveCert(ctx, "grafana_cert", certPEM, host1, false))
			require.NoError(t, f.mgr.SaveKey(ctx, "grafana_key", keyPEM, host1, false))
			rootPEM, err := f.mgr.RootCA()
			require.NoError(t, err)

			f.backend.SetGetError(tt.key, errors.ErrStorageUnavailable)
			before := f.backend.Len()

			mgr := newManager(t, f.backend, health.NewMonitor())
			err = mgr.Init(ctx, "10.0.0.1")
			assert.Equal(t, before, f.backend.Len(), "nothing is regenerated")
			if tt.wantFatal {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				assert.Equal(t, StateFailed, mgr.State())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, StateLoaded, mgr.State())
			got, err := mgr.RootCA()
			require.NoError(t, err)
			assert.Equal(t, rootPEM, got)
		})
	}
}

func TestInit_PersistFailureIsFatal(t *testing.T) {
	backend := memory.New()
	backend.SetPutError(errors.ErrStorageUnavailable)

	mgr := newManager(t, backend, health.NewMonitor())
	err := mgr.Init(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, StateFailed, mgr.State())
}

func TestOperations_RequireInit(t *testing.T) {
	mgr := newManager(t, memory.New(), health.NewMonitor())
	ctx := context.Background()

	_, err := mgr.GetCert("mgmt_gw_cert", tlsobject.Target{})
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	assert.ErrorIs(t, mgr.SaveCert(ctx, "mgmt_gw_cert", "x", tlsobject.Target{}, true), errors.ErrNotInitialized)
	_, _, err = mgr.PrepareCertificates(ctx, PrepareRequest{CertName: "mgmt_gw_cert", KeyName: "mgmt_gw_key"})
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	_, err = mgr.CheckServicesCertificates(ctx)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	_, err = mgr.KeyLs()
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
}

func TestSaveGetRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host1 := tlsobject.Target{Host: "host1"}

	require.NoError(t, f.mgr.SaveCert(ctx, "grafana_cert", "PEM1", host1, true))
	got, err := f.mgr.GetCert("grafana_cert", host1)
	require.NoError(t, err)
	assert.Equal(t, "PEM1", got)

	got, err = f.mgr.GetCert("grafana_cert", tlsobject.Target{Host: "host2"})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, f.mgr.RmCert(ctx, "grafana_cert", host1))
	got, err = f.mgr.GetCert("grafana_cert", host1)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, f.mgr.RmKey(ctx, "grafana_key", host1), "removing an absent key is a no-op")
}

func TestSave_InvalidNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.mgr.SaveCert(ctx, "bogus_cert", "x", tlsobject.Target{}, true)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrUnknownEntity)

	err = f.mgr.SaveKey(ctx, "grafana_key", "x", tlsobject.Target{}, true)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingQualifier)

	err = f.mgr.RmCert(ctx, tlsobject.RootCACert, tlsobject.Target{})
	assert.True(t, errors.IsInvalid(err))
}

func TestSave_RootCAIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testutil.NewCA(t, "Example Corp", "Example CA")

	rootPEM, err := f.mgr.RootCA()
	require.NoError(t, err)
	rootKey, err := f.mgr.GetKey(tlsobject.RootCAKey, tlsobject.Target{})
	require.NoError(t, err)

	err = f.mgr.SaveCert(ctx, tlsobject.RootCACert, other.CertPEM, tlsobject.Target{}, true)
	assert.True(t, errors.IsInvalid(err))
	err = f.mgr.SaveKey(ctx, tlsobject.RootCAKey, other.KeyPEM, tlsobject.Target{}, true)
	assert.True(t, errors.IsInvalid(err))

	got, err := f.mgr.GetCert(tlsobject.RootCACert, tlsobject.Target{})
	require.NoError(t, err)
	assert.Equal(t, rootPEM, got)
	got, err = f.mgr.GetKey(tlsobject.RootCAKey, tlsobject.Target{})
	require.NoError(t, err)
	assert.Equal(t, rootKey, got)

	again := newManager(t, f.backend, health.NewMonitor())
	require.NoError(t, again.Init(ctx, ""), "stored root still matches")
}

func TestWithHealth_NilMonitor(t *testing.T) {
	var monitor *health.Monitor
	f := newFixture(t, WithHealth(monitor))
	ctx := context.Background()
	ca := testutil.NewCA(t, "Example Corp", "Example CA")

	certPEM, keyPEM := ca.IssueExpiringIn(t, -time.Hour)
	require.NoError(t, f.mgr.SaveCert(ctx, "mgmt_gw_cert", certPEM, tlsobject.Target{}, true))
	require.NoError(t, f.mgr.SaveKey(ctx, "mgmt_gw_key", keyPEM, tlsobject.Target{}, true))

	assert.NotPanics(t, func() {
		_, err := f.mgr.CheckServicesCertificates(ctx)
		assert.NoError(t, err)
	})
	assert.Len(t, f.mgr.Problems(), 1)
}

func TestSetCertKeyPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ca := testutil.NewCA(t, "Example Corp", "Example CA")
	certPEM, keyPEM := ca.Issue(t, testutil.LeafSpec{CommonName: "gw.example.com"})

	require.NoError(t, f.mgr.SetCertKeyPair(ctx, "mgmt_gw_cert", certPEM, keyPEM, tlsobject.Target{}))

	certs, keys := f.mgr.certs, f.mgr.keys
	cert, err := certs.Get("mgmt_gw_cert", tlsobject.Target{})
	require.NoError(t, err)
	assert.True(t, cert.UserMade())
	key, err := keys.Get("mgmt_gw_key", tlsobject.Target{})
	require.NoError(t, err)
	assert.True(t, key.UserMade())
	assert.Equal(t, keyPEM, key.Payload())
}

func TestSetCertKeyPair_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ca := testutil.NewCA(t, "Example Corp", "Example CA")
	certPEM, _ := ca.Issue(t, testutil.LeafSpec{})
	_, otherKey := ca.Issue(t, testutil.LeafSpec{})

	err := f.mgr.SetCertKeyPair(ctx, "mgmt_gw_cert", certPEM, otherKey, tlsobject.Target{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = f.mgr.SetCertKeyPair(ctx, "nvmeof_root_ca_cert", certPEM, otherKey, tlsobject.Target{Service: "nvmeof.a"})
	assert.ErrorIs(t, err, errors.ErrUnknownEntity)

	got, err := f.mgr.GetCert("mgmt_gw_cert", tlsobject.Target{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScopeForService(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, tlsobject.ScopeService, f.mgr.ScopeForService("rgw.zone1"))
	assert.Equal(t, tlsobject.ScopeHost, f.mgr.ScopeForService("grafana"))
	assert.Equal(t, tlsobject.ScopeGlobal, f.mgr.ScopeForService("mgmt-gateway"))
	assert.Equal(t, tlsobject.ScopeUnknown, f.mgr.ScopeForService("mon"))
}

func TestKeyLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, keyPEM := testutil.GenerateKey(t)
	require.NoError(t, f.mgr.SaveKey(ctx, "grafana_key", keyPEM, tlsobject.Target{Host: "host1"}, true))

	keys, err := f.mgr.KeyLs()
	require.NoError(t, err)

	byName := map[string]KeyListing{}
	for _, k := range keys {
		assert.NotEqual(t, tlsobject.RootCAKey, k.Name)
		byName[k.Name+"/"+k.Target] = k
	}
	assert.Equal(t, KeyListing{Name: "grafana_key", Target: "host1", Scope: "host", UserMade: true, Present: true},
		byName["grafana_key/host1"])
	assert.Equal(t, KeyListing{Name: "mgmt_gw_key", Scope: "global"}, byName["mgmt_gw_key/"])

	data, err := json.Marshal(keys)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "PRIVATE KEY")
}

func TestCertLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ca := testutil.NewCA(t, "Example Corp", "Example CA")
	userCert, userKey := ca.Issue(t, testutil.LeafSpec{CommonName: "gw.example.com", DNSNames: []string{"gw.example.com"}})
	require.NoError(t, f.mgr.SetCertKeyPair(ctx, "mgmt_gw_cert", userCert, userKey, tlsobject.Target{}))

	_, _, err := f.mgr.PrepareCertificates(ctx, PrepareRequest{
		CertName: "grafana_cert", KeyName: "grafana_key",
		HostFQDNs: []string{"host1.example.com"}, TargetHost: "host1",
	})
	require.NoError(t, err)

	external, err := f.mgr.CertLs(false)
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, "mgmt_gw_cert", external[0].Name)
	assert.True(t, external[0].UserMade)
	require.NotNil(t, external[0].Details)
	assert.Equal(t, "Example CA", external[0].Details.IssuerCN)
	assert.Equal(t, []string{"gw.example.com"}, external[0].Details.SANs)

	all, err := f.mgr.CertLs(true)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, c := range all {
		names = append(names, c.Name+"/"+c.Target)
	}
	assert.Equal(t, []string{tlsobject.RootCACert + "/", "grafana_cert/host1", "mgmt_gw_cert/"}, names)
}
