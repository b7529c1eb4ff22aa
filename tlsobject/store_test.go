package tlsobject

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/storage/memory"
)

func newCertStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	backend := memory.New()
	return NewStore(KindCert, backend, nil), backend
}

func TestStore_SaveGetGlobal(t *testing.T) {
	s, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "mgmt_gw_cert", "PEM-A", Target{}, true))

	obj, err := s.Get("mgmt_gw_cert", Target{})
	require.NoError(t, err)
	assert.Equal(t, Cert{PEM: "PEM-A", IsUserMade: true}, obj)

	raw, err := backend.Get(ctx, "cert_store.cert.mgmt_gw_cert")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cert":"PEM-A","user_made":true}`, string(raw))
}

func TestStore_SaveDeterminesUserMade(t *testing.T) {
	s, _ := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "mgmt_gw_cert", "PEM-A", Target{}, true))
	require.NoError(t, s.Save(ctx, "mgmt_gw_cert", "PEM-B", Target{}, false))

	obj, err := s.Get("mgmt_gw_cert", Target{})
	require.NoError(t, err)
	assert.False(t, obj.UserMade())
	assert.Equal(t, "PEM-B", obj.Payload())
}

func TestStore_QualifiedEntities(t *testing.T) {
	s, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "grafana_cert", "G1", Target{Host: "host1"}, false))
	require.NoError(t, s.Save(ctx, "grafana_cert", "G2", Target{Host: "host2"}, true))
	require.NoError(t, s.Save(ctx, "rgw_frontend_ssl_cert", "R1", Target{Service: "rgw.zone1"}, true))

	raw, err := backend.Get(ctx, "cert_store.cert.grafana_cert")
	require.NoError(t, err)
	assert.JSONEq(t, `{"host1":{"cert":"G1","user_made":false},"host2":{"cert":"G2","user_made":true}}`, string(raw))

	obj, err := s.Get("grafana_cert", Target{Host: "host2"})
	require.NoError(t, err)
	assert.Equal(t, "G2", obj.Payload())

	obj, err = s.Get("grafana_cert", Target{Host: "host3"})
	require.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = s.Get("rgw_frontend_ssl_cert", Target{Service: "rgw.zone1"})
	require.NoError(t, err)
	assert.Equal(t, "R1", obj.Payload())
	assert.Equal(t, ScopeService, ScopeForService(ServiceType("rgw.zone1")))
}

func TestStore_QualifierErrors(t *testing.T) {
	s, _ := newCertStore(t)
	ctx := context.Background()

	_, err := s.Get("grafana_cert", Target{})
	assert.True(t, errors.Is(err, errors.ErrMissingQualifier))

	_, err = s.Get("rgw_frontend_ssl_cert", Target{Host: "host1"})
	assert.True(t, errors.Is(err, errors.ErrMissingQualifier))

	_, err = s.Get("unknown_cert", Target{})
	assert.True(t, errors.Is(err, errors.ErrUnknownEntity))
	assert.True(t, errors.IsInvalid(err))

	err = s.Save(ctx, "grafana_key", "K", Target{Host: "h"}, false)
	assert.True(t, errors.Is(err, errors.ErrUnknownEntity), "key names are unknown to a cert store")
}

func TestStore_Remove(t *testing.T) {
	s, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "grafana_cert", "G1", Target{Host: "host1"}, false))
	require.NoError(t, s.Save(ctx, "grafana_cert", "G2", Target{Host: "host2"}, false))

	require.NoError(t, s.Remove(ctx, "grafana_cert", Target{Host: "host1"}))
	obj, err := s.Get("grafana_cert", Target{Host: "host1"})
	require.NoError(t, err)
	assert.Nil(t, obj)

	require.NoError(t, s.Remove(ctx, "grafana_cert", Target{Host: "host1"}), "removing twice is a no-op")
	require.NoError(t, s.Remove(ctx, "grafana_cert", Target{Host: "host2"}))

	_, err = backend.Get(ctx, "cert_store.cert.grafana_cert")
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound), "empty entity is deleted")

	require.NoError(t, s.Remove(ctx, "mgmt_gw_cert", Target{}))
}

func TestStore_SaveFailureKeepsPreviousValue(t *testing.T) {
	s, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "mgmt_gw_cert", "OLD", Target{}, false))
	backend.SetPutError(errors.ErrStorageUnavailable)

	err := s.Save(ctx, "mgmt_gw_cert", "NEW", Target{}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageUnavailable))

	obj, err := s.Get("mgmt_gw_cert", Target{})
	require.NoError(t, err)
	assert.Equal(t, "OLD", obj.Payload())
}

func TestStore_ListFlattensScopes(t *testing.T) {
	s, _ := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "mgmt_gw_cert", "M", Target{}, false))
	require.NoError(t, s.Save(ctx, "grafana_cert", "G", Target{Host: "host1"}, false))
	require.NoError(t, s.Save(ctx, "rgw_frontend_ssl_cert", "R", Target{Service: "rgw.a"}, true))

	want := []Entry{
		{Name: "grafana_cert", Scope: ScopeHost, Target: "host1", Object: Cert{PEM: "G"}},
		{Name: "mgmt_gw_cert", Scope: ScopeGlobal, Object: Cert{PEM: "M"}},
		{Name: "rgw_frontend_ssl_cert", Scope: ScopeService, Target: "rgw.a", Object: Cert{PEM: "R", IsUserMade: true}},
	}
	if diff := cmp.Diff(want, s.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LoadIdempotent(t *testing.T) {
	writer, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, writer.Save(ctx, "mgmt_gw_cert", "M", Target{}, true))
	require.NoError(t, writer.Save(ctx, "grafana_cert", "G", Target{Host: "host1"}, false))
	require.NoError(t, writer.Save(ctx, "iscsi_ssl_cert", "I", Target{Service: "iscsi.a"}, false))

	reader := NewStore(KindCert, backend, nil)
	require.NoError(t, reader.Load(ctx))
	first := reader.List()
	require.NoError(t, reader.Load(ctx))
	second := reader.List()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second Load changed state (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(writer.List(), first); diff != "" {
		t.Errorf("loaded state differs from written state (-written +loaded):\n%s", diff)
	}
}

func TestStore_LoadSkipsCorruptEntries(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, "cert_store.cert.mgmt_gw_cert", []byte(`not json`)))
	require.NoError(t, backend.Put(ctx, "cert_store.cert.grafana_cert", []byte(`{"host1":{"cert":"G","user_made":false}}`)))
	require.NoError(t, backend.Put(ctx, "cert_store.cert.oauth2_proxy_cert", []byte(`{"key":"wrong field"}`)))
	require.NoError(t, backend.Put(ctx, "cert_store.cert.retired_cert", []byte(`{"cert":"X"}`)))

	s := NewStore(KindCert, backend, nil)
	require.NoError(t, s.Load(ctx))

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "grafana_cert", entries[0].Name)
}

func TestStore_LoadReportsUnreadableEntries(t *testing.T) {
	writer, backend := newCertStore(t)
	ctx := context.Background()

	require.NoError(t, writer.Save(ctx, "mgmt_gw_cert", "M", Target{}, true))
	require.NoError(t, writer.Save(ctx, "grafana_cert", "G", Target{Host: "host1"}, false))
	backend.SetGetError("cert_store.cert.grafana_cert", errors.ErrStorageUnavailable)

	s := NewStore(KindCert, backend, nil)
	err := s.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	var unreadable *UnreadableError
	require.True(t, errors.As(err, &unreadable))
	assert.Equal(t, []string{"grafana_cert"}, unreadable.Names)
	assert.True(t, unreadable.Has("grafana_cert"))
	assert.False(t, unreadable.Has("mgmt_gw_cert"))
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)

	entries := s.List()
	require.Len(t, entries, 1, "readable names still load")
	assert.Equal(t, "mgmt_gw_cert", entries[0].Name)
}

func TestStore_KeyStoreLayout(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	keys := NewStore(KindKey, backend, nil)

	require.NoError(t, keys.Save(ctx, RootCAKey, "ROOTKEY", Target{}, false))
	raw, err := backend.Get(ctx, "cert_store.key.cephadm_root_ca_key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"ROOTKEY","user_made":false}`, string(raw))

	obj, err := keys.Get(RootCAKey, Target{})
	require.NoError(t, err)
	assert.Equal(t, PrivKey{PEM: "ROOTKEY"}, obj)
}

func TestDetermineTarget(t *testing.T) {
	s, _ := newCertStore(t)
	assert.Equal(t, Target{Service: "rgw.zone1"}, s.DetermineTarget("rgw_frontend_ssl_cert", "rgw.zone1"))
	assert.Equal(t, Target{Host: "host1"}, s.DetermineTarget("grafana_cert", "host1"))
	assert.Equal(t, Target{}, s.DetermineTarget("mgmt_gw_cert", "ignored"))
	assert.Equal(t, Target{Host: "h"}, DetermineTarget(KindKey, "node_exporter_key", "h"))
}

func TestStore_WatchReloadsExternalChanges(t *testing.T) {
	backend := memory.New()
	s := NewStore(KindCert, backend, nil)
	other := NewStore(KindCert, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// The watcher registers asynchronously; keep writing until it is observed.
	assert.Eventually(t, func() bool {
		_ = other.Save(context.Background(), "mgmt_gw_cert", "EXTERNAL", Target{}, true)
		obj, err := s.Get("mgmt_gw_cert", Target{})
		return err == nil && obj != nil && obj.Payload() == "EXTERNAL"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
