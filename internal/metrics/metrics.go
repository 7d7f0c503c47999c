// Package metrics exposes worker counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for finished jobs.
const (
	OutcomeClassified   = "classified"
	OutcomeUnclassified = "unclassified"
	OutcomeUndelivered  = "undelivered"
)

// Worker holds the collectors updated by the inference workers.
type Worker struct {
	registry  *prometheus.Registry
	jobs      *prometheus.CounterVec
	cacheHits prometheus.Counter
	inference prometheus.Histogram
}

// NewWorker registers the worker collectors on a fresh registry.
func NewWorker() *Worker {
	w := &Worker{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgclassify",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs finished by the worker, by outcome.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imgclassify",
			Subsystem: "worker",
			Name:      "cache_hits_total",
			Help:      "Jobs answered from the fingerprint cache without inference.",
		}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imgclassify",
			Subsystem: "worker",
			Name:      "inference_seconds",
			Help:      "Latency of calls to the inference collaborator.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	w.registry.MustRegister(w.jobs, w.cacheHits, w.inference)
	return w
}

// JobFinished counts one job by outcome.
func (w *Worker) JobFinished(outcome string) {
	if w == nil {
		return
	}
	w.jobs.WithLabelValues(outcome).Inc()
}

// CacheHit counts one fingerprint cache hit.
func (w *Worker) CacheHit() {
	if w == nil {
		return
	}
	w.cacheHits.Inc()
}

// ObserveInference records one inference duration.
func (w *Worker) ObserveInference(d time.Duration) {
	if w == nil {
		return
	}
	w.inference.Observe(d.Seconds())
}

// Registry returns the registry holding the worker collectors.
func (w *Worker) Registry() *prometheus.Registry {
	return w.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (w *Worker) Handler() http.Handler {
	return promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{})
}
