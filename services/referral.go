package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"data-marketplace/apperr"
	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/metrics"
	"data-marketplace/models"
	"data-marketplace/store"

	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const codeAttempts = 5

type ReferralService struct {
	Store  *store.Store
	Points *PointsService
	Config config.ReferralConfig
}

func NewReferralService(st *store.Store, points *PointsService, cfg config.ReferralConfig) *ReferralService {
	return &ReferralService{Store: st, Points: points, Config: cfg}
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Provisioned   int           `json:"provisioned"`
	WalletsSynced int           `json:"wallets_synced"`
	CountsUpdated int64         `json:"counts_updated"`
	TopUps        int           `json:"top_ups"`
	PointsAwarded int64         `json:"points_awarded"`
	Failures      int           `json:"failures"`
	Duration      time.Duration `json:"duration"`
}

// ReconcileReferrals brings referral rows and referral bonuses in line with
// the current state of users and the ledger. Every step recomputes from
// scratch, so running it twice, concurrently, or after a crash converges on
// the same result. Step failures are logged and reported; later steps still
// run.
func (s *ReferralService) ReconcileReferrals(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	report := &ReconcileReport{}
	var errs []error

	steps := []struct {
		name string
		run  func(context.Context, *ReconcileReport) error
	}{
		{"provision", s.provisionCodes},
		{"wallet_sync", s.syncWallets},
		{"recount", s.recountSuccesses},
		{"top_up", s.topUpRewards},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := step.run(ctx, report); err != nil {
			report.Failures++
			errs = append(errs, err)
			logger.WithFields(logrus.Fields{"step": step.name}).Errorf("referral reconciliation step failed: %v", err)
		}
	}

	report.Duration = time.Since(start)
	metrics.ReconcileDuration.Observe(report.Duration.Seconds())
	status := "ok"
	if report.Failures > 0 {
		status = "partial"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(status).Inc()

	return report, errors.Join(errs...)
}

// provisionCodes gives every eligible user without a referral row a code.
func (s *ReferralService) provisionCodes(ctx context.Context, report *ReconcileReport) error {
	var users []models.User
	err := s.Store.WithRetry(ctx, "referral_provision_scan", func(ctx context.Context) error {
		return s.Store.DB.WithContext(ctx).
			Where("total_points >= ?", s.Config.EligibilityPoints).
			Where("NOT EXISTS (SELECT 1 FROM referrals r WHERE r.user_id = users.id)").
			Find(&users).Error
	})
	if err != nil {
		return err
	}

	for _, u := range users {
		created, err := s.provisionOne(ctx, u)
		if err != nil {
			report.Failures++
			logger.WithFields(logrus.Fields{"user_id": u.ID}).Warnf("referral code provisioning failed: %v", err)
			continue
		}
		if created {
			report.Provisioned++
		}
	}
	return nil
}

func (s *ReferralService) provisionOne(ctx context.Context, u models.User) (bool, error) {
	var lastErr error
	for i := 0; i < codeAttempts; i++ {
		ref := models.Referral{
			ID:            uuid.NewString(),
			UserID:        u.ID,
			WalletAddress: u.WalletAddress,
			ReferralCode:  GenerateCode(u.Username),
		}
		var affected int64
		err := s.Store.WithRetry(ctx, "referral_provision", func(ctx context.Context) error {
			res := s.Store.DB.WithContext(ctx).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
				Create(&ref)
			affected = res.RowsAffected
			return res.Error
		})
		if err == nil {
			return affected > 0, nil
		}
		// a code collision surfaces as a constraint error; draw a new code
		if apperr.KindOf(err) != apperr.KindConflict {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

// GenerateCode builds "<PREFIX>-<RANDOM>": up to four transliterated
// letters of the username followed by six hex characters.
func GenerateCode(username string) string {
	var prefix strings.Builder
	for _, r := range strings.ToUpper(unidecode.Unidecode(username)) {
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			prefix.WriteRune(r)
			if prefix.Len() == 4 {
				break
			}
		}
	}
	if prefix.Len() < 2 {
		prefix.Reset()
		prefix.WriteString("REF")
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return prefix.String() + "-" + suffix
}

type walletDrift struct {
	ReferralID string
	Wallet     *string
}

// syncWallets copies users.wallet_address into referral rows that drifted.
func (s *ReferralService) syncWallets(ctx context.Context, report *ReconcileReport) error {
	var drifts []walletDrift
	err := s.Store.WithRetry(ctx, "referral_wallet_scan", func(ctx context.Context) error {
		return s.Store.DB.WithContext(ctx).
			Table("referrals AS r").
			Select("r.id AS referral_id, u.wallet_address AS wallet").
			Joins("JOIN users u ON u.id = r.user_id").
			Where("COALESCE(r.wallet_address, '') <> COALESCE(u.wallet_address, '')").
			Scan(&drifts).Error
	})
	if err != nil {
		return err
	}

	for _, d := range drifts {
		err := s.Store.WithRetry(ctx, "referral_wallet_sync", func(ctx context.Context) error {
			return s.Store.DB.WithContext(ctx).Model(&models.Referral{}).
				Where("id = ?", d.ReferralID).
				Update("wallet_address", d.Wallet).Error
		})
		if err != nil {
			report.Failures++
			logger.WithFields(logrus.Fields{"referral_id": d.ReferralID}).Warnf("referral wallet sync failed: %v", err)
			continue
		}
		report.WalletsSynced++
	}
	return nil
}

// recountSuccesses sets every successful_ref_count to the exact number of
// referees at or above the success threshold.
func (s *ReferralService) recountSuccesses(ctx context.Context, report *ReconcileReport) error {
	const countSQL = `(SELECT COUNT(*) FROM users u WHERE u.referred_by = referrals.referral_code AND u.total_points >= ?)`
	threshold := s.Points.Config.RefereeSuccessPoints

	return s.Store.WithRetry(ctx, "referral_recount", func(ctx context.Context) error {
		res := s.Store.DB.WithContext(ctx).Exec(
			`UPDATE referrals SET successful_ref_count = `+countSQL+`, updated_at = ? WHERE successful_ref_count <> `+countSQL,
			threshold, time.Now(), threshold,
		)
		report.CountsUpdated = res.RowsAffected
		return res.Error
	})
}

// topUpRewards pays each referrer the difference between what their count
// is worth and the referral bonus already in their ledger.
func (s *ReferralService) topUpRewards(ctx context.Context, report *ReconcileReport) error {
	var refs []models.Referral
	err := s.Store.WithRetry(ctx, "referral_topup_scan", func(ctx context.Context) error {
		return s.Store.DB.WithContext(ctx).Where("successful_ref_count > 0").Find(&refs).Error
	})
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		paid, err := s.topUpOne(ctx, ref.UserID)
		if err != nil {
			report.Failures++
			logger.WithFields(logrus.Fields{"user_id": ref.UserID}).Warnf("referral top-up failed: %v", err)
			continue
		}
		if paid > 0 {
			report.TopUps++
			report.PointsAwarded += paid
		}
	}
	return nil
}

// topUpOne locks the referrer's user row before counting referees and
// reading the ledger, so two overlapping runs cannot both see the same
// shortfall.
func (s *ReferralService) topUpOne(ctx context.Context, userID string) (int64, error) {
	var paid int64
	err := s.Store.Transaction(ctx, "referral_topup", func(tx *gorm.DB) error {
		paid = 0

		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&user).Error; err != nil {
			return err
		}

		var ref models.Referral
		if err := tx.Where("user_id = ?", userID).Take(&ref).Error; err != nil {
			return err
		}

		// successful_ref_count can run ahead of the truth between recounts
		// (a referee who opts out and re-crosses is incremented twice), so
		// the payout is based on a live count.
		var successes int64
		if err := tx.Model(&models.User{}).
			Where("referred_by = ? AND total_points >= ?", ref.ReferralCode, s.Points.Config.RefereeSuccessPoints).
			Count(&successes).Error; err != nil {
			return err
		}
		if successes != ref.SuccessfulRefCount {
			if err := tx.Model(&models.Referral{}).Where("id = ?", ref.ID).
				Update("successful_ref_count", successes).Error; err != nil {
				return err
			}
		}

		var awarded int64
		if err := tx.Model(&models.PointsEntry{}).
			Where("user_id = ? AND reason = ?", userID, models.ReasonReferralSuccessBonus).
			Select("COALESCE(SUM(points), 0)").
			Scan(&awarded).Error; err != nil {
			return err
		}

		expected := successes * s.Config.PointsPerReferral
		if expected <= awarded {
			return nil
		}
		if _, err := s.Points.awardInTx(tx, userID, expected-awarded, models.ReasonReferralSuccessBonus); err != nil {
			return err
		}
		paid = expected - awarded
		return nil
	})
	if err != nil {
		return 0, err
	}
	if paid > 0 {
		recordAward(models.ReasonReferralSuccessBonus, paid)
		metrics.ReconcileTopUpPoints.Add(float64(paid))
	}
	return paid, nil
}

// GetReferral returns the user's referral row.
func (s *ReferralService) GetReferral(ctx context.Context, userID string) (*models.Referral, error) {
	var ref models.Referral
	err := s.Store.WithRetry(ctx, "get_referral", func(ctx context.Context) error {
		err := s.Store.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeInvalidReferral, "no referral code yet")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
