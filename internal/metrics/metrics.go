package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CasesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caseway_cases_detected_total",
			Help: "Total number of stable case directories detected by the scanner.",
		},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseway_submissions_total",
			Help: "Total number of remote submissions by result.",
		},
		[]string{"result"},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseway_submission_recoveries_total",
			Help: "Total number of crash-recovery resolutions for interrupted submissions, by outcome.",
		},
		[]string{"outcome"},
	)

	CasesFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseway_cases_finished_total",
			Help: "Total number of cases reaching a terminal status.",
		},
		[]string{"status"},
	)

	AmbiguousOutcomesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caseway_ambiguous_outcomes_total",
			Help: "Total number of running cases resolved pessimistically because the remote job vanished from queue history.",
		},
	)

	TimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caseway_case_timeouts_total",
			Help: "Total number of running cases resolved via the timeout path.",
		},
	)

	RemoteUnreachableTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseway_remote_unreachable_total",
			Help: "Total number of remote control-plane calls that could not be completed.",
		},
		[]string{"op"},
	)

	ClaimContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caseway_resource_claim_contention_total",
			Help: "Total number of resource claim attempts lost to a concurrent claimer.",
		},
	)

	QuarantinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "caseway_resource_quarantines_total",
			Help: "Total number of resources quarantined after an unconfirmed remote kill.",
		},
	)

	CasesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caseway_cases",
			Help: "Number of cases by lifecycle status.",
		},
		[]string{"status"},
	)

	ResourcesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caseway_resources",
			Help: "Number of execution resources by status.",
		},
		[]string{"status"},
	)

	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caseway_cycle_duration_seconds",
			Help:    "Duration of orchestration cycles in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)
)

// Register registers all custom caseway metrics with the default
// Prometheus registry.
func Register() {
	prometheus.MustRegister(
		CasesDetectedTotal,
		SubmissionsTotal,
		RecoveriesTotal,
		CasesFinishedTotal,
		AmbiguousOutcomesTotal,
		TimeoutsTotal,
		RemoteUnreachableTotal,
		ClaimContentionTotal,
		QuarantinesTotal,
		CasesByStatus,
		ResourcesByStatus,
		CycleDurationSeconds,
	)
}
