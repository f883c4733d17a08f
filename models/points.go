package models

import (
	"time"
)

// PointsReason tags a ledger entry with why it was awarded
type PointsReason string

const (
	ReasonFirstAccessBonus     PointsReason = "first_access_bonus"
	ReasonContributionBonus    PointsReason = "contribution_bonus"
	ReasonReferralSuccessBonus PointsReason = "referral_success_bonus"
	ReasonAdminGrant           PointsReason = "admin_grant"
)

// Reserved reports whether r is written only by the service itself. Sums
// over these reasons drive reconciliation, so operators cannot grant them.
func (r PointsReason) Reserved() bool {
	switch r {
	case ReasonFirstAccessBonus, ReasonContributionBonus, ReasonReferralSuccessBonus:
		return true
	}
	return false
}

// PointsEntry is one append-only row of the points ledger. Rows are only
// removed en masse when the owning user opts out.
type PointsEntry struct {
	ID        string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string       `gorm:"index:idx_points_user_reason;type:varchar(36);not null" json:"user_id"`
	Points    int64        `gorm:"not null" json:"points"`
	Reason    PointsReason `gorm:"index:idx_points_user_reason;type:varchar(64);not null" json:"reason"`
	CreatedAt time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}

// League is the tier label derived from a user's total points.
type League string

const (
	LeagueBronze   League = "Bronze"
	LeagueSilver   League = "Silver"
	LeagueGold     League = "Gold"
	LeaguePlatinum League = "Platinum"
	LeagueDiamond  League = "Diamond"
)

// LeagueThresholds: minimum total points per league, highest first
var LeagueThresholds = []struct {
	League    League
	MinPoints int64
}{
	{LeagueDiamond, 5000},
	{LeaguePlatinum, 1500},
	{LeagueGold, 500},
	{LeagueSilver, 100},
	{LeagueBronze, 0},
}

// LeagueFor is monotonic in total: more points never yields a lower league.
func LeagueFor(total int64) League {
	for _, t := range LeagueThresholds {
		if total >= t.MinPoints {
			return t.League
		}
	}
	return LeagueBronze
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
