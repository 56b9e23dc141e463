package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for executions_total.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeExhausted = "exhausted"
	OutcomeUsage     = "usage"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotexec",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Number of dynamic statement executions by outcome.",
		}, []string{"outcome"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotexec",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Time a statement held its slot.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"slot"},
	)
	busySlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slotexec",
			Subsystem: "slots",
			Name:      "busy",
			Help:      "Slots currently held by this process.",
		},
	)
	nestingDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotexec",
			Subsystem: "execution",
			Name:      "nesting_depth",
			Help:      "Nesting depth of executed statements (1 = top level).",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		},
	)
	releaseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotexec",
			Subsystem: "slots",
			Name:      "release_failures_total",
			Help:      "Number of slot releases rejected by the slot table.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{executions, executionDuration, busySlots, nestingDepth, releaseFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncExecution(outcome string) {
	if regOK.Load() {
		executions.WithLabelValues(outcome).Inc()
	}
}

func ObserveExecution(slot string, seconds float64) {
	if regOK.Load() {
		executionDuration.WithLabelValues(slot).Observe(seconds)
	}
}

func ObserveDepth(depth int) {
	if regOK.Load() {
		nestingDepth.Observe(float64(depth))
	}
}

func SlotAcquired() {
	if regOK.Load() {
		busySlots.Inc()
	}
}

func SlotReleased() {
	if regOK.Load() {
		busySlots.Dec()
	}
}

func IncReleaseFailure() {
	if regOK.Load() {
		releaseFailures.Inc()
	}
}
