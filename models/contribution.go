package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProviderType selects the contribution table and its duplicate rules.
type ProviderType string

const (
	ProviderAmazon  ProviderType = "amazon"
	ProviderUber    ProviderType = "uber"
	ProviderNetflix ProviderType = "netflix"
	ProviderTwitter ProviderType = "twitter"
)

const DefaultContributionStatus = "verified"

// ContributionEnvelope holds the columns shared by every provider table.
type ContributionEnvelope struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID           string         `gorm:"index;type:varchar(36);not null" json:"user_id"`
	ProofID          string         `gorm:"uniqueIndex;type:varchar(255);not null" json:"proof_id"`
	Status           string         `gorm:"type:varchar(32);not null" json:"status"`
	ProcessingMethod string         `gorm:"type:varchar(64)" json:"processing_method,omitempty"`
	WalletAddress    *string        `gorm:"type:varchar(128)" json:"wallet_address,omitempty"`
	Payload          datatypes.JSON `gorm:"not null" json:"payload"`
	DerivedMetadata  datatypes.JSON `json:"derived_metadata,omitempty"`
	OptOut           bool           `gorm:"not null;index" json:"opt_out"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (e *ContributionEnvelope) Envelope() *ContributionEnvelope { return e }

// ContributionRow is implemented by every provider table model.
type ContributionRow interface {
	TableName() string
	Envelope() *ContributionEnvelope
	// IndexedFields maps column name to value for the provider-specific columns.
	IndexedFields() map[string]interface{}
}

// Contribution is the provider-agnostic read view returned by queries.
type Contribution struct {
	ID               string                 `json:"id"`
	ProviderType     ProviderType           `json:"provider_type"`
	UserID           string                 `json:"user_id"`
	ProofID          string                 `json:"proof_id"`
	Status           string                 `json:"status"`
	ProcessingMethod string                 `json:"processing_method,omitempty"`
	WalletAddress    *string                `json:"wallet_address,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	IndexedFields    map[string]interface{} `json:"indexed_fields"`
	Payload          map[string]interface{} `json:"payload"`
	DerivedMetadata  map[string]interface{} `json:"derived_metadata,omitempty"`
}
