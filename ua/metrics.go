package ua

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the supplemented call-statistics counters/gauges (spec.md
// SPEC_FULL "DOMAIN STACK — supplemented features"): registration
// attempts, active calls, and RTP packet counts. The core never starts an
// HTTP listener for these; it only registers them against the Registry the
// shell supplies, which the shell may expose however it likes (e.g. via
// promhttp, the way the teacher's example/proxysip/main.go does for its own
// metrics).
type Metrics struct {
	RegisterAttempts prometheus.Counter
	RegisterFailures prometheus.Counter
	ActiveCalls      prometheus.Gauge
	RTPPacketsSent   prometheus.Counter
	RTPPacketsRecv   prometheus.Counter
	RTPPacketsLost   prometheus.Counter
}

// NewMetrics builds and registers the UA's metrics against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer if the shell wants them on the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegisterAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "registration",
			Name:      "attempts_total",
			Help:      "REGISTER attempts sent, including retries and refreshes.",
		}),
		RegisterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "registration",
			Name:      "failures_total",
			Help:      "REGISTER attempts that ended in a rejection, an auth failure, or a timeout.",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "softphone",
			Subsystem: "call",
			Name:      "active",
			Help:      "1 while a call is Active, 0 otherwise (at most one call exists).",
		}),
		RTPPacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "rtp",
			Name:      "packets_sent_total",
			Help:      "RTP packets emitted by the engine, including silence-padded ticks.",
		}),
		RTPPacketsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "rtp",
			Name:      "packets_received_total",
			Help:      "Valid inbound RTP packets decoded.",
		}),
		RTPPacketsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Subsystem: "rtp",
			Name:      "packets_lost_total",
			Help:      "Sequence gaps detected on the inbound RTP stream.",
		}),
	}

	reg.MustRegister(
		m.RegisterAttempts,
		m.RegisterFailures,
		m.ActiveCalls,
		m.RTPPacketsSent,
		m.RTPPacketsRecv,
		m.RTPPacketsLost,
	)
	return m
}
