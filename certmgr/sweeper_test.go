package certmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/testutil"
	"github.com/c360/certmgr/tlsobject"
)

func TestSweeper_Run(t *testing.T) {
	pub := testutil.NewRecordingPublisher()
	f := newFixture(t, WithNotifier(NewNotifier(pub, "")))
	host1 := tlsobject.Target{Host: "host1"}

	certPEM, keyPEM := f.issueFromRoot(t, time.Now(), 2, "host1.example.com")
	require.NoError(t, f.mgr.SaveCert(context.Background(), "grafana_cert", certPEM, host1, false))
	require.NoError(t, f.mgr.SaveKey(context.Background(), "grafana_key", keyPEM, host1, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.mgr, 20*time.Millisecond, quietLogger()).Run(ctx) }()

	// The first sweep runs immediately and renews the certificate.
	testutil.WaitForMessage(t, pub, DefaultReconfigSubject, 2*time.Second)
	assert.Eventually(t, func() bool {
		got, err := f.mgr.GetCert("grafana_cert", host1)
		return err == nil && got != certPEM
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, 1, pub.Count(DefaultReconfigSubject), "fresh certificates trigger no further notices")
}

func TestSweeper_SkipsWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.mgr.sweeping.Store(true)
	defer f.mgr.sweeping.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, NewSweeper(f.mgr, 10*time.Millisecond, quietLogger()).Run(ctx))
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(nil, 0, nil)
	assert.Equal(t, time.Hour, s.interval)
	assert.NotNil(t, s.logger)
}

func TestSweeper_ReportsStatus(t *testing.T) {
	f := newFixture(t)
	monitor := health.NewMonitor()
	s := NewSweeper(f.mgr, time.Hour, quietLogger(), WithStatusMonitor(monitor))

	s.sweep(context.Background())
	got, ok := monitor.Get(sweeperComponent)
	require.True(t, ok)
	assert.True(t, got.IsHealthy())

	s.report(context.Background(), errors.New("store read failed at /var/lib/certmgr"))
	got, _ = monitor.Get(sweeperComponent)
	assert.True(t, got.IsUnhealthy())
	assert.Equal(t, "store read failed at [PATH]", got.Message)

	// A skipped tick keeps the last outcome.
	f.mgr.sweeping.Store(true)
	s.sweep(context.Background())
	f.mgr.sweeping.Store(false)
	got, _ = monitor.Get(sweeperComponent)
	assert.True(t, got.IsUnhealthy())
}
