package models

import "time"

// User is the marketplace account. TotalPoints and League are denormalized
// from the points ledger and only change through the points service.
type User struct {
	ID            string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalID    string  `gorm:"uniqueIndex;not null" json:"external_id"` // auth provider subject
	Email         *string `gorm:"uniqueIndex" json:"email,omitempty"`
	WalletAddress *string `gorm:"index;type:varchar(128)" json:"wallet_address,omitempty"`
	Username      string  `gorm:"index" json:"username"`
	Streak        int     `gorm:"not null" json:"streak"`
	TotalPoints   int64   `gorm:"not null;index" json:"total_points"`
	League        League  `gorm:"type:varchar(16);not null" json:"league"`
	ReferredBy    *string `gorm:"index;type:varchar(32)" json:"referred_by,omitempty"` // a referral code, not a user id

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
