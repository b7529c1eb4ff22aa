package certmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/metric"
	"github.com/c360/certmgr/testutil"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNotifier_Notify(t *testing.T) {
	pub := testutil.NewRecordingPublisher()
	metrics := metric.NewMetrics()
	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	n := NewNotifier(pub, "cluster.reconfig", WithNotifierMetrics(metrics), WithNotifierClock(func() time.Time { return now }))
	assert.Equal(t, "cluster.reconfig", n.Subject())

	require.NoError(t, n.Notify(context.Background(), []string{"grafana", "rgw.zone1"}))

	msgs := pub.Messages("cluster.reconfig")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"services":["grafana","rgw.zone1"],"timestamp":"2026-05-04T03:02:01Z"}`, string(msgs[0]))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.ReconfigNotices.WithLabelValues(metric.ResultSuccess)))
}

func TestNotifier_SkipsEmpty(t *testing.T) {
	pub := testutil.NewRecordingPublisher()
	n := NewNotifier(pub, "")

	require.NoError(t, n.Notify(context.Background(), nil))
	testutil.AssertNoMessages(t, pub, DefaultReconfigSubject)
}

func TestNotifier_PublishError(t *testing.T) {
	pub := testutil.NewRecordingPublisher()
	pub.FailWith(errors.ErrConnectionLost)
	metrics := metric.NewMetrics()
	n := NewNotifier(pub, "", WithNotifierMetrics(metrics))

	err := n.Notify(context.Background(), []string{"grafana"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.ReconfigNotices.WithLabelValues(metric.ResultFailure)))
}
