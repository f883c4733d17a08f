package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"data-marketplace/apperr"
	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/models"
	"data-marketplace/providers"
	"data-marketplace/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Archiver stores an opt-out receipt outside the database.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

type OptOutResult struct {
	Success              bool   `json:"success"`
	UserID               string `json:"user_id"`
	ContributionsUpdated int64  `json:"contributions_updated"`
	NewPointsTotal       int64  `json:"new_points_total"`
}

type OptOutService struct {
	Store    *store.Store
	Config   config.PointsConfig
	Archiver Archiver
}

func NewOptOutService(st *store.Store, cfg config.PointsConfig, archiver Archiver) *OptOutService {
	return &OptOutService{Store: st, Config: cfg, Archiver: archiver}
}

// OptOutUser hides every contribution of the user from the marketplace and
// resets their points to the first-access baseline, atomically.
func (s *OptOutService) OptOutUser(ctx context.Context, userID string) (*OptOutResult, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "user id is required")
	}

	baseline := s.Config.FirstAccessBonus
	var result *OptOutResult
	err := s.Store.Transaction(ctx, "opt_out_user", func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "user not found: "+userID)
		}
		if err != nil {
			return err
		}

		now := time.Now()
		var updated int64
		for _, p := range providers.All() {
			res := tx.Table(p.TableName()).
				Where("user_id = ? AND opt_out = ?", userID, false).
				Updates(map[string]interface{}{"opt_out": true, "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("opt out %s: %w", p.Type(), res.Error)
			}
			updated += res.RowsAffected
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.PointsEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.PointsEntry{
			ID:     uuid.NewString(),
			UserID: userID,
			Points: baseline,
			Reason: models.ReasonFirstAccessBonus,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"total_points": baseline,
			"league":       models.LeagueFor(baseline),
		}).Error; err != nil {
			return err
		}

		result = &OptOutResult{
			Success:              true,
			UserID:               userID,
			ContributionsUpdated: updated,
			NewPointsTotal:       baseline,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"user_id":               userID,
		"contributions_updated": result.ContributionsUpdated,
	})
	log.Info("user opted out")
	s.archiveReceipt(ctx, result, log)
	return result, nil
}

func (s *OptOutService) archiveReceipt(ctx context.Context, result *OptOutResult, log *logrus.Entry) {
	if s.Archiver == nil {
		return
	}
	receipt := struct {
		*OptOutResult
		OptedOutAt time.Time `json:"opted_out_at"`
	}{result, time.Now().UTC()}

	body, err := json.Marshal(receipt)
	if err == nil {
		key := fmt.Sprintf("archive/opt-outs/%s/%d.json", result.UserID, receipt.OptedOutAt.Unix())
		err = s.Archiver.Archive(ctx, key, body)
	}
	if err != nil {
		log.Warnf("opt-out receipt not archived: %v", err)
	}
}
