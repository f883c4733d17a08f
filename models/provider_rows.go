package models

import (
	"time"

	"gorm.io/datatypes"
)

type AmazonContribution struct {
	ContributionEnvelope
	OrderCount    int64          `gorm:"not null;index:idx_amazon_fingerprint" json:"order_count"`
	TotalSpend    float64        `gorm:"not null;index:idx_amazon_fingerprint" json:"total_spend"`
	PrimeMember   bool           `gorm:"not null" json:"prime_member"`
	TopCategories datatypes.JSON `json:"top_categories,omitempty"`
	AccountSince  *time.Time     `json:"account_since,omitempty"`
}

func (AmazonContribution) TableName() string { return "amazon_contributions" }

func (c *AmazonContribution) IndexedFields() map[string]interface{} {
	return map[string]interface{}{
		"order_count":    c.OrderCount,
		"total_spend":    c.TotalSpend,
		"prime_member":   c.PrimeMember,
		"top_categories": c.TopCategories,
		"account_since":  c.AccountSince,
	}
}

type UberContribution struct {
	ContributionEnvelope
	TripCount   int64          `gorm:"not null;index:idx_uber_fingerprint" json:"trip_count"`
	TotalFare   float64        `gorm:"not null;index:idx_uber_fingerprint" json:"total_fare"`
	RiderRating float64        `json:"rider_rating"`
	Cities      datatypes.JSON `json:"cities,omitempty"`
}

func (UberContribution) TableName() string { return "uber_contributions" }

func (c *UberContribution) IndexedFields() map[string]interface{} {
	return map[string]interface{}{
		"trip_count":   c.TripCount,
		"total_fare":   c.TotalFare,
		"rider_rating": c.RiderRating,
		"cities":       c.Cities,
	}
}

type NetflixContribution struct {
	ContributionEnvelope
	TitleCount int64          `gorm:"not null;index" json:"title_count"`
	WatchHours float64        `gorm:"not null" json:"watch_hours"`
	PlanTier   string         `gorm:"type:varchar(32)" json:"plan_tier"`
	TopGenres  datatypes.JSON `json:"top_genres,omitempty"`
}

func (NetflixContribution) TableName() string { return "netflix_contributions" }

func (c *NetflixContribution) IndexedFields() map[string]interface{} {
	return map[string]interface{}{
		"title_count": c.TitleCount,
		"watch_hours": c.WatchHours,
		"plan_tier":   c.PlanTier,
		"top_genres":  c.TopGenres,
	}
}

type TwitterContribution struct {
	ContributionEnvelope
	Username       string `gorm:"type:varchar(64);not null;index" json:"username"` // folded form, see providers
	FollowerCount  int64  `gorm:"not null" json:"follower_count"`
	FollowingCount int64  `gorm:"not null" json:"following_count"`
	TweetCount     int64  `gorm:"not null" json:"tweet_count"`
	Verified       bool   `gorm:"not null" json:"verified"`
}

func (TwitterContribution) TableName() string { return "twitter_contributions" }

func (c *TwitterContribution) IndexedFields() map[string]interface{} {
	return map[string]interface{}{
		"username":        c.Username,
		"follower_count":  c.FollowerCount,
		"following_count": c.FollowingCount,
		"tweet_count":     c.TweetCount,
		"verified":        c.Verified,
	}
}

// AllModels lists every table the service owns, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&PointsEntry{},
		&Referral{},
		&AmazonContribution{},
		&UberContribution{},
		&NetflixContribution{},
		&TwitterContribution{},
	}
}
