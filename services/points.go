package services

import (
	"context"
	"errors"

	"data-marketplace/apperr"
	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/metrics"
	"data-marketplace/models"
	"data-marketplace/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PointsService struct {
	Store  *store.Store
	Config config.PointsConfig
}

func NewPointsService(st *store.Store, cfg config.PointsConfig) *PointsService {
	return &PointsService{Store: st, Config: cfg}
}

// AwardPoints appends a ledger entry and moves the user's running total by
// delta in one transaction, retried on transient store errors.
func (s *PointsService) AwardPoints(ctx context.Context, userID string, delta int64, reason models.PointsReason) (*models.PointsEntry, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "user id is required")
	}
	if reason == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "reason is required")
	}

	var entry *models.PointsEntry
	err := s.Store.Transaction(ctx, "award_points", func(tx *gorm.DB) error {
		e, err := s.awardInTx(tx, userID, delta, reason)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	recordAward(reason, delta)
	return entry, nil
}

func recordAward(reason models.PointsReason, delta int64) {
	if delta > 0 {
		metrics.PointsAwardedTotal.WithLabelValues(string(reason)).Add(float64(delta))
	}
}

// awardInTx is the award protocol on an open transaction. Callers that
// already hold the user's row lock (reconciliation top-up, identity
// creation) use it directly.
func (s *PointsService) awardInTx(tx *gorm.DB, userID string, delta int64, reason models.PointsReason) (*models.PointsEntry, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "user not found: "+userID)
	}
	if err != nil {
		return nil, err
	}

	entry := &models.PointsEntry{
		ID:     uuid.NewString(),
		UserID: userID,
		Points: delta,
		Reason: reason,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		Update("total_points", gorm.Expr("total_points + ?", delta)).Error; err != nil {
		return nil, err
	}

	newTotal := user.TotalPoints + delta
	if league := models.LeagueFor(newTotal); league != user.League {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("league", league).Error; err != nil {
			return nil, err
		}
	}

	threshold := s.Config.RefereeSuccessPoints
	if user.ReferredBy != nil && user.TotalPoints < threshold && newTotal >= threshold {
		s.incrementReferral(tx, userID, *user.ReferredBy)
	}

	logger.WithFields(logrus.Fields{
		"user_id": userID,
		"points":  delta,
		"reason":  reason,
		"total":   newTotal,
	}).Info("points awarded")

	return entry, nil
}

// incrementReferral is best effort. It runs in a savepoint so a failure
// leaves the award intact; the reconciliation job recomputes the count.
func (s *PointsService) incrementReferral(tx *gorm.DB, userID, code string) {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Model(&models.Referral{}).
			Where("referral_code = ?", code).
			Update("successful_ref_count", gorm.Expr("successful_ref_count + 1")).Error
	})
	if err != nil {
		metrics.ReferralIncrementFailures.Inc()
		logger.WithFields(logrus.Fields{
			"user_id":       userID,
			"referral_code": code,
		}).Warnf("referral success increment failed, left to reconciliation: %v", err)
	}
}

type Balance struct {
	UserID       string        `json:"user_id"`
	TotalPoints  int64         `json:"total_points"`
	League       models.League `json:"league"`
	NextLeague   models.League `json:"next_league,omitempty"`
	PointsToNext int64         `json:"points_to_next,omitempty"`
}

func (s *PointsService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var user models.User
	err := s.Store.WithRetry(ctx, "get_balance", func(ctx context.Context) error {
		err := s.Store.DB.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "user not found: "+userID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	b := &Balance{UserID: user.ID, TotalPoints: user.TotalPoints, League: models.LeagueFor(user.TotalPoints)}
	// thresholds are ordered highest first
	for _, t := range models.LeagueThresholds {
		if t.MinPoints > user.TotalPoints {
			b.NextLeague = t.League
			b.PointsToNext = t.MinPoints - user.TotalPoints
		}
	}
	return b, nil
}

type History struct {
	Entries []models.PointsEntry `json:"entries"`
	Total   int64                `json:"total"`
	Page    int                  `json:"page"`
	Size    int                  `json:"size"`
}

// GetHistory pages through a user's ledger, newest first.
func (s *PointsService) GetHistory(ctx context.Context, userID string, page, size int) (*History, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	h := &History{Page: page, Size: size}
	err := s.Store.WithRetry(ctx, "get_history", func(ctx context.Context) error {
		db := s.Store.DB.WithContext(ctx)
		if err := db.Model(&models.PointsEntry{}).Where("user_id = ?", userID).Count(&h.Total).Error; err != nil {
			return err
		}
		return db.Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(size).
			Offset((page - 1) * size).
			Find(&h.Entries).Error
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

type AuditMismatch struct {
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
	LedgerSum   int64  `json:"ledger_sum"`
}

// AuditTotals lists users whose running total differs from their ledger sum.
// Only meaningful at quiescence; in-flight awards show up as transient noise.
func (s *PointsService) AuditTotals(ctx context.Context) ([]AuditMismatch, error) {
	var out []AuditMismatch
	err := s.Store.WithRetry(ctx, "audit_totals", func(ctx context.Context) error {
		return s.Store.DB.WithContext(ctx).
			Table("users AS u").
			Select("u.id AS user_id, u.total_points AS total_points, COALESCE(SUM(p.points), 0) AS ledger_sum").
			Joins("LEFT JOIN points_entries p ON p.user_id = u.id").
			Group("u.id, u.total_points").
			Having("u.total_points <> COALESCE(SUM(p.points), 0)").
			Scan(&out).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerAuditMismatches.Set(float64(len(out)))
	return out, nil
}
