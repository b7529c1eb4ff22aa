package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/storage"
)

func TestStore_PutGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	data := []byte(`{"cert":"pem","user_made":true}`)
	require.NoError(t, s.Put(ctx, "cert_store.cert.mgmt_gw_cert", data))

	// Mutating the caller's slice must not change the stored value.
	data[0] = 'X'

	got, err := s.Get(ctx, "cert_store.cert.mgmt_gw_cert")
	require.NoError(t, err)
	assert.Equal(t, `{"cert":"pem","user_made":true}`, string(got))
}

func TestStore_GetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound))
}

func TestStore_GetError(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "cert_store.cert.grafana_cert", []byte("{}")))

	s.SetGetError("cert_store.cert.grafana_cert", errors.ErrStorageUnavailable)
	_, err := s.Get(ctx, "cert_store.cert.grafana_cert")
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)

	keys, err := s.List(ctx, "cert_store.")
	require.NoError(t, err)
	assert.Equal(t, []string{"cert_store.cert.grafana_cert"}, keys)

	s.SetGetError("cert_store.cert.grafana_cert", nil)
	_, err = s.Get(ctx, "cert_store.cert.grafana_cert")
	assert.NoError(t, err)
}

func TestStore_ListSortedByPrefix(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"cert_store.key.b", "cert_store.cert.z", "cert_store.cert.a", "other.x"} {
		require.NoError(t, s.Put(ctx, k, []byte("{}")))
	}

	keys, err := s.List(ctx, "cert_store.cert.")
	require.NoError(t, err)
	assert.Equal(t, []string{"cert_store.cert.a", "cert_store.cert.z"}, keys)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_PutError(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetPutError(errors.ErrStorageUnavailable)
	assert.ErrorIs(t, s.Put(ctx, "k", []byte("v")), errors.ErrStorageUnavailable)

	s.SetPutError(nil)
	assert.NoError(t, s.Put(ctx, "k", []byte("v")))
}

func TestStore_Watch(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, "cert_store.")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "unrelated", []byte("v")))
	require.NoError(t, s.Put(ctx, "cert_store.cert.grafana_cert", []byte("v")))
	require.NoError(t, s.Delete(ctx, "cert_store.cert.grafana_cert"))

	select {
	case c := <-changes:
		assert.Equal(t, storage.Change{Key: "cert_store.cert.grafana_cert"}, c)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	select {
	case c := <-changes:
		assert.Equal(t, storage.Change{Key: "cert_store.cert.grafana_cert", Deleted: true}, c)
	case <-time.After(time.Second):
		t.Fatal("no delete delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-changes
		return !open
	}, time.Second, 10*time.Millisecond)
}
