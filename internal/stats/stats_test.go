package stats

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRecorderTracksActiveTunnels(t *testing.T) {
	t.Parallel()

	r := New(10, nil, logrus.New())
	assert.Equal(t, 0, r.ActiveTunnels())

	r.TunnelConnected()
	r.TunnelConnected()
	assert.Equal(t, 2, r.ActiveTunnels())

	r.TunnelDisconnected()
	assert.Equal(t, 1, r.ActiveTunnels())
}

func TestRecorderDisconnectNeverGoesNegative(t *testing.T) {
	t.Parallel()

	r := New(10, nil, logrus.New())
	r.TunnelDisconnected()
	assert.Equal(t, 0, r.ActiveTunnels())
}

func TestRecorderHealthAndStatsSnapshots(t *testing.T) {
	t.Parallel()

	r := New(5, nil, logrus.New())
	r.TunnelConnected()

	health := r.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Tunnels)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))

	snap := r.Stats()
	assert.Equal(t, 1, snap.ActiveTunnels)
	assert.Equal(t, 5, snap.MaxTunnels)
}

func TestRecorderRequestServedCountsErrors(t *testing.T) {
	t.Parallel()

	r := New(5, nil, logrus.New())
	r.RequestServed(200)
	r.RequestServed(502)

	assert.Equal(t, int64(2), r.totalRequests)
	assert.Equal(t, int64(1), r.totalErrors)
}

func TestNewStatsdClientEmptyAddrDisabled(t *testing.T) {
	t.Parallel()

	client, err := NewStatsdClient("")
	assert.NoError(t, err)
	assert.Nil(t, client)
}
