package models

// Referral holds a user's shareable code and the cached number of referees
// who crossed the success threshold. Maintained by the reconciliation job.
type Referral struct {
	ID                 string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID             string  `gorm:"uniqueIndex;type:varchar(36);not null" json:"user_id"`
	WalletAddress      *string `gorm:"type:varchar(128)" json:"wallet_address,omitempty"` // copy of users.wallet_address
	ReferralCode       string  `gorm:"uniqueIndex;type:varchar(32);not null" json:"referral_code"`
	SuccessfulRefCount int64   `gorm:"not null" json:"successful_ref_count"`

	Timestamps
}
