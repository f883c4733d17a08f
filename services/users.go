// services/users.go
package services

import (
	"context"
	"errors"
	"strings"

	"data-marketplace/apperr"
	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/models"
	"data-marketplace/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserService struct {
	Store  *store.Store
	Points *PointsService
	Config config.PointsConfig
}

func NewUserService(st *store.Store, points *PointsService, cfg config.PointsConfig) *UserService {
	return &UserService{Store: st, Points: points, Config: cfg}
}

// Identity is what the gateway knows about the caller.
type Identity struct {
	ExternalID    string  `json:"external_id"`
	Email         *string `json:"email,omitempty"`
	WalletAddress *string `json:"wallet_address,omitempty"`
	Username      string  `json:"username,omitempty"`
}

func normalizeIdentity(in Identity) Identity {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Username = strings.TrimSpace(in.Username)
	if in.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*in.Email))
		in.Email = &e
		if e == "" {
			in.Email = nil
		}
	}
	if in.WalletAddress != nil {
		w := strings.TrimSpace(*in.WalletAddress)
		in.WalletAddress = &w
		if w == "" {
			in.WalletAddress = nil
		}
	}
	return in
}

// ReconcileIdentity finds the user by external id, then email, then wallet
// and fills in whatever of those is missing. A user seen for the first time
// is created with the first-access bonus. created reports which happened.
func (s *UserService) ReconcileIdentity(ctx context.Context, in Identity) (user *models.User, created bool, err error) {
	in = normalizeIdentity(in)
	if in.ExternalID == "" {
		return nil, false, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "external id is required")
	}

	err = s.Store.Transaction(ctx, "reconcile_identity", func(tx *gorm.DB) error {
		created = false
		u, err := findIdentity(tx, in)
		if err != nil {
			return err
		}

		if u == nil {
			u = &models.User{
				ID:            uuid.NewString(),
				ExternalID:    in.ExternalID,
				Email:         in.Email,
				WalletAddress: in.WalletAddress,
				Username:      in.Username,
				League:        models.LeagueFor(0),
			}
			if err := tx.Create(u).Error; err != nil {
				return err
			}
			if _, err := s.Points.awardInTx(tx, u.ID, s.Config.FirstAccessBonus, models.ReasonFirstAccessBonus); err != nil {
				return err
			}
			created = true
			user = u
			return tx.Where("id = ?", u.ID).Take(user).Error
		}

		updates := map[string]interface{}{}
		if u.Email == nil && in.Email != nil {
			updates["email"] = *in.Email
		}
		if u.WalletAddress == nil && in.WalletAddress != nil {
			updates["wallet_address"] = *in.WalletAddress
		}
		if u.Username == "" && in.Username != "" {
			updates["username"] = in.Username
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", u.ID).Take(u).Error; err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		logger.WithFields(logrus.Fields{"user_id": user.ID, "external_id": user.ExternalID}).Info("user created")
	}
	return user, created, nil
}

func findIdentity(tx *gorm.DB, in Identity) (*models.User, error) {
	lookups := []struct {
		column string
		value  *string
	}{
		{"external_id", &in.ExternalID},
		{"email", in.Email},
		{"wallet_address", in.WalletAddress},
	}
	for _, l := range lookups {
		if l.value == nil {
			continue
		}
		var u models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(clause.Eq{Column: clause.Column{Name: l.column}, Value: *l.value}).
			Order("created_at").
			Take(&u).Error
		if err == nil {
			return &u, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *UserService) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var u models.User
	err := s.Store.WithRetry(ctx, "get_user", func(ctx context.Context) error {
		err := s.Store.DB.WithContext(ctx).Where("external_id = ?", externalID).Take(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "user not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ApplyReferralCode records who referred the user. It can be set once and
// never to the user's own code.
func (s *UserService) ApplyReferralCode(ctx context.Context, userID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "referral code is required")
	}

	return s.Store.Transaction(ctx, "apply_referral", func(tx *gorm.DB) error {
		var u models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeUserNotFound, "user not found: "+userID)
		}
		if err != nil {
			return err
		}
		if u.ReferredBy != nil {
			return apperr.New(apperr.KindConflict, apperr.CodeInvalidReferral, "a referral code was already applied")
		}

		var ref models.Referral
		err = tx.Where("referral_code = ?", code).Take(&ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindInvalid, apperr.CodeInvalidReferral, "unknown referral code")
		}
		if err != nil {
			return err
		}
		if ref.UserID == u.ID {
			return apperr.New(apperr.KindInvalid, apperr.CodeInvalidReferral, "cannot apply your own referral code")
		}

		return tx.Model(&models.User{}).Where("id = ?", u.ID).Update("referred_by", code).Error
	})
}

// SyncWallet sets the wallet of the user with the given external id. Used by
// the profile sync worker; returns false when no such user exists here.
func (s *UserService) SyncWallet(ctx context.Context, externalID, wallet string) (bool, error) {
	var affected int64
	err := s.Store.WithRetry(ctx, "sync_wallet", func(ctx context.Context) error {
		var value interface{} = wallet
		if strings.TrimSpace(wallet) == "" {
			value = nil
		}
		res := s.Store.DB.WithContext(ctx).Model(&models.User{}).
			Where("external_id = ?", externalID).
			Update("wallet_address", value)
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}
