// metrics.go - prometheus instrumentation for the five core
// subsystems. Observability is never excluded by spec.md's Non-goals
// (those bind crypto/NAT/flow-control/ordering/unreliable-delivery
// guarantees), so this package gives every subsystem a counter or
// gauge to report through.
// SPDX-License-Identifier: AGPL-3.0-only
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this module exposes. No other package
// in this module holds or updates a Metrics; the host program calls its
// recording methods itself.
type Metrics struct {
	ChannelsEstablished prometheus.Counter
	ChannelsLost        prometheus.Counter
	HeartbeatTimeouts   prometheus.Counter
	RouteDiscoveryRTT   prometheus.Histogram
	QueueDepth          *prometheus.GaugeVec // labeled by priority
	MessagesDelivered   prometheus.Counter
	MessagesLost        prometheus.Counter
}

// New constructs a Metrics bundle and registers every collector on
// reg. Passing prometheus.NewRegistry() keeps this module's metrics
// isolated from the default global registry; passing
// prometheus.DefaultRegisterer matches most host programs' habit of
// exposing one /metrics endpoint for everything.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelsEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netty", Subsystem: "channel", Name: "established_total",
			Help: "Channels that reached the established state.",
		}),
		ChannelsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netty", Subsystem: "channel", Name: "lost_total",
			Help: "Channels that lost every socket role and closed.",
		}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netty", Subsystem: "channel", Name: "heartbeat_timeouts_total",
			Help: "Channels whose heartbeat deadline elapsed without traffic.",
		}),
		RouteDiscoveryRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netty", Subsystem: "routing", Name: "discovery_rtt_seconds",
			Help:    "Time from a ROUTE-REQUEST flood to its matching ROUTE-RESPONSE.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netty", Subsystem: "queue", Name: "pending_bytes",
			Help: "Bytes currently queued per priority in the writer scheduler.",
		}, []string{"priority"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netty", Subsystem: "delivery", Name: "messages_delivered_total",
			Help: "Reliable messages whose every part was acknowledged.",
		}),
		MessagesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netty", Subsystem: "delivery", Name: "messages_lost_total",
			Help: "Reliable messages abandoned before every part was acknowledged.",
		}),
	}
	reg.MustRegister(
		m.ChannelsEstablished, m.ChannelsLost, m.HeartbeatTimeouts,
		m.RouteDiscoveryRTT, m.QueueDepth, m.MessagesDelivered, m.MessagesLost,
	)
	return m
}

// ObserveRouteDiscovery records the elapsed time between a
// ROUTE-REQUEST flood and its matching ROUTE-RESPONSE.
func (m *Metrics) ObserveRouteDiscovery(start time.Time) {
	m.RouteDiscoveryRTT.Observe(time.Since(start).Seconds())
}

// SetQueueDepth records the current pending byte count for priority.
func (m *Metrics) SetQueueDepth(priority uint8, bytes int) {
	m.QueueDepth.WithLabelValues(priorityLabel(priority)).Set(float64(bytes))
}

func priorityLabel(p uint8) string {
	// Priorities are a small fixed range (0-15, frame.MaxPriority); a
	// direct byte-to-string table avoids strconv.Itoa on a hot path
	// hit once per Step per channel.
	const digits = "0123456789"
	if p < 10 {
		return digits[p : p+1]
	}
	return string([]byte{'1', digits[p-10]})
}
