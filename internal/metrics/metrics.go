// Package metrics exposes prometheus instrumentation for the reply pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobsProcessed *prometheus.CounterVec
	GateDenials   *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	GenDuration   prometheus.Histogram
}

// New registers the pipeline metrics on reg. Passing a fresh registry per
// instance keeps tests isolated from each other.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomtalk_reply_jobs_processed_total",
			Help: "Reply jobs by terminal outcome (completed, failed, deferred).",
		}, []string{"outcome"}),
		GateDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomtalk_gate_denials_total",
			Help: "Admission-control denials by reason.",
		}, []string{"reason"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomtalk_reply_job_duration_seconds",
			Help:    "Wall time from delivery to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		GenDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomtalk_generation_duration_seconds",
			Help:    "Latency of the external generation call.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}
