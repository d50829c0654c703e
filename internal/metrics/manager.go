// Package metrics exposes Prometheus instruments for the engine and its collaborators.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Manager struct {
	CounterGenerations      *prometheus.CounterVec
	CounterQuotaRejections  prometheus.Counter
	CounterCompletions      *prometheus.CounterVec
	CounterRewards          *prometheus.CounterVec
	CounterPersistFailures  *prometheus.CounterVec
	CounterCollaboratorErrs *prometheus.CounterVec
	CounterRequests         *prometheus.CounterVec

	HistogramRequestDuration *prometheus.HistogramVec
	HistogramInsightDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewTestManager returns a Manager backed by a private registry.
func NewTestManager() *Manager {
	return NewManager("struggle", "test", prometheus.NewRegistry())
}

// NewManager registers all instruments on reg. reg must also be a [prometheus.Gatherer] for [Manager.Handler].
func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)
	m := &Manager{
		CounterGenerations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workouts_generated_total",
			Help:      "Generated workouts by protocol and mode.",
		}, []string{"protocol", "mode"}),
		CounterQuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "quota_rejections_total",
			Help:      "Generation requests rejected by the daily quota.",
		}),
		CounterCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workouts_completed_total",
			Help:      "Completed workouts by protocol and reward tier.",
		}, []string{"protocol", "tier"}),
		CounterRewards: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reward_points_total",
			Help:      "Reward currency granted by protocol.",
		}, []string{"protocol"}),
		CounterPersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persistence_failures_total",
			Help:      "Writes that failed and left the caller in unsaved mode.",
		}, []string{"operation"}),
		CounterCollaboratorErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "collaborator_errors_total",
			Help:      "Best-effort collaborator failures by collaborator and kind.",
		}, []string{"collaborator", "kind"}),
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		HistogramRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP response time in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
		HistogramInsightDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "insight_duration_seconds",
			Help:      "Latency of the text generation collaborator.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		}),
		gatherer: nil,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// NewProcessManager registers the instruments together with the Go and process collectors on a fresh registry.
func NewProcessManager(namespace, subsystem string) *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewManager(namespace, subsystem, reg)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
