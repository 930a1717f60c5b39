// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsSubmitted counts accepted submissions.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restyle_jobs_submitted_total",
		Help: "Jobs accepted by the gateway.",
	})

	// JobsFinished counts jobs by terminal status.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restyle_jobs_finished_total",
		Help: "Jobs that reached a terminal status.",
	}, []string{"status"})

	// UnitsGenerated counts per-unit outcomes by tier.
	UnitsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restyle_units_generated_total",
		Help: "Generation unit outcomes.",
	}, []string{"tier", "outcome"})

	// JobDuration observes wall time from claim to terminal status.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "restyle_job_duration_seconds",
		Help:    "Job execution time from claim to finish.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// TierFallbacks counts jobs downgraded to a fallback tier mid-run.
	TierFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restyle_tier_fallbacks_total",
		Help: "Jobs that switched to a fallback tier.",
	})

	// CreditsRefunded sums credits returned to users.
	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restyle_credits_refunded_total",
		Help: "Credits refunded for cancelled, failed or downgraded work.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
