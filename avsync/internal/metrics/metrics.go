// Package metrics exposes Prometheus collectors for the sync pipeline on a
// private registry. Every method is a no-op on a nil *Metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avsync"

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	itemsTotal    *prometheus.CounterVec
	documents     *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one with the Go and process collectors added.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		if err := registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("metrics: register go collector: %w", err)
		}
		if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("metrics: register process collector: %w", err)
		}
	}
	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished sync runs.",
		}, []string{"kind", "status"}), // kind: index-sync, pdf-sync; status: success, partial, failed
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~14min
		}, []string{"kind"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items processed by outcome.",
		}, []string{"kind", "outcome"}), // outcome: new, updated, skipped, parsed, partial, failed
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Downloaded documents, by whether the fingerprint was new.",
		}, []string{"result"}), // result: created, existing
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP fetch attempts by error class.",
		}, []string{"class"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single HTTP fetch attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms to ~40s
		}),
	}
	for _, c := range []prometheus.Collector{
		m.runsTotal, m.runDuration, m.itemsTotal, m.documents, m.fetchAttempts, m.fetchDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddItems adds n items of one outcome.
func (m *Metrics) AddItems(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

// RecordDocument counts a stored document.
func (m *Metrics) RecordDocument(created bool) {
	if m == nil {
		return
	}
	result := "existing"
	if created {
		result = "created"
	}
	m.documents.WithLabelValues(result).Inc()
}

// RecordFetch counts one fetch attempt.
func (m *Metrics) RecordFetch(class string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(class).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
