// Package tcpmetrics exposes Prometheus instrumentation for the minitcp
// engine, in the style of telepresence's traffic-manager metrics.
package tcpmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/gauges a single process-wide registration
// feeds; every connection's engine updates the same set of metrics.
type Metrics struct {
	BytesSent         prometheus.Counter
	BytesRetransmitted prometheus.Counter
	DuplicateACKs     prometheus.Counter
	RetransmitTimeouts prometheus.Counter
	CongestionWindow  prometheus.Gauge
	FastRetransmits   prometheus.Counter
}

// NewMetrics builds a Metrics bundle and, if reg is non-nil, registers it.
// A nil Registerer is a supported way to disable metrics entirely: the
// returned Metrics still has usable, no-op-safe prometheus collectors that
// were simply never exposed.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minitcp_bytes_sent_total",
			Help: "Total payload bytes transmitted, including retransmissions.",
		}),
		BytesRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minitcp_bytes_retransmitted_total",
			Help: "Total payload bytes retransmitted due to Go-Back-N or fast retransmit.",
		}),
		DuplicateACKs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minitcp_duplicate_acks_total",
			Help: "Total duplicate ACKs observed.",
		}),
		RetransmitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minitcp_retransmit_timeouts_total",
			Help: "Total retransmission-timeout events.",
		}),
		CongestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minitcp_congestion_window_bytes",
			Help: "Most recently sampled congestion window, in bytes.",
		}),
		FastRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minitcp_fast_retransmits_total",
			Help: "Total fast-retransmit events triggered by three duplicate ACKs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.BytesSent,
			m.BytesRetransmitted,
			m.DuplicateACKs,
			m.RetransmitTimeouts,
			m.CongestionWindow,
			m.FastRetransmits,
		)
	}
	return m
}
