// Package metrics exposes Prometheus instrumentation for the call core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the collectors registered by the call core. A nil *Set is
// valid and records nothing, so packages can take metrics optionally.
type Set struct {
	ActiveChannels prometheus.Gauge
	CallsTotal     *prometheus.CounterVec
	Indications    *prometheus.CounterVec
	TimerFires     *prometheus.CounterVec
	TeardownErrors prometheus.Counter
	DialSeconds    prometheus.Histogram
}

// New creates the collector set and registers it with reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "active_channels",
			Help:      "Number of live call legs.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "calls_total",
			Help:      "Inbound fan-out outcomes.",
		}, []string{"outcome"}),
		Indications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "indications_total",
			Help:      "Call-state indications pushed to devices.",
		}, []string{"indication"}),
		TimerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "timer_fires_total",
			Help:      "Scheduler timer fires by kind.",
		}, []string{"kind"}),
		TeardownErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "teardown_errors_total",
			Help:      "Best-effort teardown steps that reported an error.",
		}),
		DialSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crossbar",
			Subsystem: "core",
			Name:      "dial_start_seconds",
			Help:      "Latency of backend dial-start requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.ActiveChannels,
			s.CallsTotal,
			s.Indications,
			s.TimerFires,
			s.TeardownErrors,
			s.DialSeconds,
		)
	}
	return s
}

// ChannelUp records a new live call leg.
func (s *Set) ChannelUp() {
	if s == nil {
		return
	}
	s.ActiveChannels.Inc()
}

// ChannelDown records a destroyed call leg.
func (s *Set) ChannelDown() {
	if s == nil {
		return
	}
	s.ActiveChannels.Dec()
}

// CallOutcome records one fan-out outcome (ringing, busy, congestion).
func (s *Set) CallOutcome(outcome string) {
	if s == nil {
		return
	}
	s.CallsTotal.WithLabelValues(outcome).Inc()
}

// Indication records one device indication.
func (s *Set) Indication(kind string) {
	if s == nil {
		return
	}
	s.Indications.WithLabelValues(kind).Inc()
}

// TimerFire records one scheduler fire ("autoanswer" or "digit").
func (s *Set) TimerFire(kind string) {
	if s == nil {
		return
	}
	s.TimerFires.WithLabelValues(kind).Inc()
}

// TeardownError records one failed best-effort teardown step.
func (s *Set) TeardownError() {
	if s == nil {
		return
	}
	s.TeardownErrors.Inc()
}

// ObserveDial records one dial-start round trip.
func (s *Set) ObserveDial(seconds float64) {
	if s == nil {
		return
	}
	s.DialSeconds.Observe(seconds)
}
