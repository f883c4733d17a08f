package workers

import (
	"context"
	"fmt"

	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic jobs: referral reconciliation on a short
// interval and the ledger audit on a cron schedule. Reconciliation runs are
// allowed to overlap; the job is idempotent.
type Scheduler struct {
	sched     gocron.Scheduler
	referrals *services.ReferralService
	points    *services.PointsService
}

func NewScheduler(cfg config.ReferralConfig, referrals *services.ReferralService, points *services.PointsService) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, referrals: referrals, points: points}

	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(s.reconcile),
		gocron.WithName("referral-reconcile"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule referral reconciliation: %w", err)
	}

	if cfg.AuditCron != "" {
		if _, err := sched.NewJob(
			gocron.CronJob(cfg.AuditCron, false),
			gocron.NewTask(s.audit),
			gocron.WithName("ledger-audit"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("failed to schedule ledger audit: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) reconcile(ctx context.Context) {
	report, err := s.referrals.ReconcileReferrals(ctx)
	entry := logger.WithFields(logrus.Fields{
		"provisioned":    report.Provisioned,
		"wallets_synced": report.WalletsSynced,
		"counts_updated": report.CountsUpdated,
		"top_ups":        report.TopUps,
		"points_awarded": report.PointsAwarded,
		"failures":       report.Failures,
		"duration":       report.Duration,
	})
	if err != nil {
		entry.Warnf("referral reconciliation finished with errors: %v", err)
		return
	}
	if report.TopUps > 0 || report.Provisioned > 0 {
		entry.Info("referral reconciliation")
	}
}

func (s *Scheduler) audit(ctx context.Context) {
	mismatches, err := s.points.AuditTotals(ctx)
	if err != nil {
		logger.Errorf("ledger audit failed: %v", err)
		return
	}
	for _, m := range mismatches {
		logger.WithFields(logrus.Fields{
			"user_id":      m.UserID,
			"total_points": m.TotalPoints,
			"ledger_sum":   m.LedgerSum,
		}).Warn("points total differs from ledger")
	}
}
