// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus metrics for the transport. The registry is injected, never a
// package-level default, so embedding applications keep ownership of their
// metric namespace.

package control

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates the transport-level counters and gauges.
type Metrics struct {
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	AcceptedTotal  prometheus.Counter
	ConnectsTotal  prometheus.Counter
	ActiveChannels prometheus.Gauge
}

// NewMetrics builds and registers the transport metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockchan_bytes_read_total",
			Help: "Bytes delivered by channel read passes.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockchan_bytes_written_total",
			Help: "Bytes drained from outbound write queues.",
		}),
		AcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockchan_accepted_total",
			Help: "Connections accepted by listening channels.",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockchan_connects_total",
			Help: "Outbound connect attempts resolved successfully.",
		}),
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sockchan_active_channels",
			Help: "Currently active stream channels.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BytesRead, m.BytesWritten, m.AcceptedTotal, m.ConnectsTotal, m.ActiveChannels)
	}
	return m
}
