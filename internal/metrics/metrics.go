// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allotment_runs_total",
			Help: "Total number of allotment runs by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allotment_run_duration_seconds",
			Help:    "Allotment run duration in seconds, including the commit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	LastRunEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "allotment_last_run_entries",
			Help: "Entries written by the last committed run",
		},
		[]string{"outcome"},
	)

	LastRunStudents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "allotment_last_run_students",
			Help: "Students processed by the last committed run",
		},
	)

	CourseSeatsAllotted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "allotment_course_seats_allotted",
			Help: "Seats allotted per course in the current run",
		},
		[]string{"course"},
	)

	Published = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "allotment_published",
			Help: "1 when the current run is visible to students",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
