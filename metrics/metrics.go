package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContributionsTotal counts submission outcomes per provider
	ContributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "contributions",
		Name:      "submissions_total",
		Help:      "Contribution submissions by provider and outcome",
	}, []string{"provider", "outcome"})

	PointsAwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "points",
		Name:      "awarded_total",
		Help:      "Points awarded by reason",
	}, []string{"reason"})

	ReferralIncrementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "points",
		Name:      "referral_increment_failures_total",
		Help:      "Best-effort referral counter increments that failed inside an award",
	})

	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "store",
		Name:      "retries_total",
		Help:      "Transaction retries after transient store errors",
	}, []string{"operation"})

	StoreFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "store",
		Name:      "failures_total",
		Help:      "Operations that failed after classification",
	}, []string{"operation", "kind"})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "referrals",
		Name:      "reconcile_runs_total",
		Help:      "Referral reconciliation runs by status",
	}, []string{"status"})

	ReconcileTopUpPoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "referrals",
		Name:      "topup_points_total",
		Help:      "Referral bonus points paid by the reconciliation job",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "referrals",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of one referral reconciliation run",
		Buckets:   prometheus.DefBuckets,
	})

	AdmissionInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace",
		Subsystem: "admission",
		Name:      "in_flight",
		Help:      "Submissions currently holding an admission slot",
	})

	AdmissionWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace",
		Subsystem: "admission",
		Name:      "waiting",
		Help:      "Submissions queued for an admission slot",
	})

	AdmissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "admission",
		Name:      "rejected_total",
		Help:      "Submissions rejected because the wait queue was full",
	})

	LedgerAuditMismatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace",
		Subsystem: "points",
		Name:      "ledger_audit_mismatches",
		Help:      "Users whose total differs from their ledger sum at the last audit",
	})
)
