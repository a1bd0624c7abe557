// Package monitoring exposes federator metrics and raises operator alerts.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "federator"

// Skip reasons for candidates that were not signed.
const (
	SkipAlreadySigned = "already_signed"
	SkipCannotSign    = "cannot_sign"
	SkipLookupFailed  = "lookup_failed"
)

// Alert kinds.
const (
	AlertSigning    = "signing"
	AlertPreSigning = "pre_signing"
	AlertBroadcast  = "broadcast"
)

type Metrics struct {
	Registry *prometheus.Registry

	releasesSigned    prometheus.Counter
	candidatesSkipped *prometheus.CounterVec
	ticksDuration     prometheus.Histogram
	broadcasts        *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	syncedHeight      prometheus.Gauge
}

// NewMetrics registers the federator collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		releasesSigned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "releases",
			Name:      "signed_total",
			Help:      "Release requests signed and submitted",
		}),
		candidatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "releases",
			Name:      "skipped_total",
			Help:      "Candidates skipped during a signing tick",
		}, []string{"reason"}),
		ticksDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "releases",
			Name:      "tick_duration_seconds",
			Help:      "Duration of signing ticks",
			Buckets:   prometheus.DefBuckets,
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "btc",
			Name:      "broadcasts_total",
			Help:      "Signed btc transactions handed to the btc network",
		}, []string{"status"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Operator alerts raised",
		}, []string{"kind"}),
		syncedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "processed_height",
			Help:      "Height of the last ledger block processed",
		}),
	}
}

// The methods below accept a nil receiver so components can run without
// metrics.

func (m *Metrics) ReleaseSigned() {
	if m == nil {
		return
	}
	m.releasesSigned.Inc()
}

func (m *Metrics) CandidateSkipped(reason string) {
	if m == nil {
		return
	}
	m.candidatesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TickDone(seconds float64) {
	if m == nil {
		return
	}
	m.ticksDuration.Observe(seconds)
}

func (m *Metrics) Broadcast(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.broadcasts.WithLabelValues(status).Inc()
}

func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) BlockProcessed(height uint64) {
	if m == nil {
		return
	}
	m.syncedHeight.Set(float64(height))
}
