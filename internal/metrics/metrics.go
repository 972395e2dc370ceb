package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track lifecycle operations
var (
	CompilationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_compilations_total",
			Help: "Total number of contract compilations by outcome",
		},
		[]string{"outcome"},
	)

	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_migrations_total",
			Help: "Total number of storage-mode migrations by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	ArtifactDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_artifact_deletions_total",
			Help: "Total number of artifact deletion attempts by outcome",
		},
		[]string{"outcome"},
	)

	TransitionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodian_transition_rejections_total",
			Help: "Total number of lifecycle transitions rejected by reason",
		},
		[]string{"reason"},
	)
)

// Reconcile metrics - Track stale-state cleanup
var (
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_reconcile_runs_total",
		Help: "Total number of reconcile passes executed",
	})

	ReconcileReservationsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_reconcile_reservations_released_total",
		Help: "Total number of stale reservations released by reconcile",
	})

	ReconcileReferencesCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_reconcile_references_cleared_total",
		Help: "Total number of dangling reference pointers cleared by reconcile",
	})
)

// State metrics - Track current system state
var (
	ActiveReservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custodian_active_reservations",
		Help: "Number of ledger inputs currently reserved for compilation",
	})

	StoredArtifacts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custodian_stored_artifacts",
		Help: "Number of contract artifacts in the store",
	})
)

// Performance metrics - Track persistence latency
var (
	StateSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "custodian_state_save_duration_seconds",
		Help:    "Time taken to persist the full manager state",
		Buckets: prometheus.DefBuckets,
	})
)
