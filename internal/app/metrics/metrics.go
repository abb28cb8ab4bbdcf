// Package metrics exposes Prometheus instrumentation for the disbursement
// engine. A Registry owns its own prometheus registry so tests can construct
// isolated instances without global collector collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
)

// Registry holds the engine's collectors.
type Registry struct {
	registry *prometheus.Registry

	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	batchRuns        prometheus.Counter
	batchOutcomes    *prometheus.CounterVec
}

// New constructs a registry with all collectors registered.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.externalCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "disbursement",
		Subsystem: "integration",
		Name:      "external_calls_total",
		Help:      "External financial aid system calls by system, operation and outcome.",
	}, []string{"system", "operation", "outcome"})

	r.externalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "disbursement",
		Subsystem: "integration",
		Name:      "external_call_duration_seconds",
		Help:      "External call latency by system and operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"system", "operation"})

	r.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "disbursement",
		Subsystem: "engine",
		Name:      "transaction_transitions_total",
		Help:      "Disbursement transaction state transitions by target status.",
	}, []string{"to"})

	r.batchRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "disbursement",
		Subsystem: "batch",
		Name:      "runs_total",
		Help:      "Completed batch submission runs.",
	})

	r.batchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "disbursement",
		Subsystem: "batch",
		Name:      "outcomes_total",
		Help:      "Per-candidate batch outcomes.",
	}, []string{"outcome"})

	r.registry.MustRegister(
		r.externalCalls,
		r.externalDuration,
		r.transitions,
		r.batchRuns,
		r.batchOutcomes,
	)
	return r
}

// RecordExternalCall counts one adapter call and observes its latency.
func (r *Registry) RecordExternalCall(system string, operation audit.Operation, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.externalCalls.WithLabelValues(system, string(operation), outcome).Inc()
	r.externalDuration.WithLabelValues(system, string(operation)).Observe(duration.Seconds())
}

// RecordTransition counts one transaction state change.
func (r *Registry) RecordTransition(to string) {
	r.transitions.WithLabelValues(to).Inc()
}

// RecordBatchRun counts a finished batch run and its per-candidate outcomes.
func (r *Registry) RecordBatchRun(submitted, failed, skipped int) {
	r.batchRuns.Inc()
	r.batchOutcomes.WithLabelValues("submitted").Add(float64(submitted))
	r.batchOutcomes.WithLabelValues("failed").Add(float64(failed))
	r.batchOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

// Handler exposes the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer for tests.
func (r *Registry) Gather() prometheus.Gatherer { return r.registry }
