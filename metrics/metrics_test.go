package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	m.ChannelsEstablished.Inc()
	m.HeartbeatTimeouts.Inc()
	m.MessagesDelivered.Inc()
	m.ObserveRouteDiscovery(time.Now().Add(-50 * time.Millisecond))
	m.SetQueueDepth(3, 1024)
	m.SetQueueDepth(12, 512)

	mfs, err = reg.Gather()
	require.NoError(t, err)

	found := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		found[mf.GetName()] = mf
	}
	require.Contains(t, found, "netty_channel_established_total")
	require.Equal(t, float64(1), found["netty_channel_established_total"].Metric[0].GetCounter().GetValue())
	require.Contains(t, found, "netty_queue_pending_bytes")
}

func TestPriorityLabel(t *testing.T) {
	require.Equal(t, "0", priorityLabel(0))
	require.Equal(t, "9", priorityLabel(9))
	require.Equal(t, "10", priorityLabel(10))
	require.Equal(t, "15", priorityLabel(15))
}
