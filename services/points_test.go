package services

import (
	"context"
	"sync"
	"testing"

	"data-marketplace/apperr"
	"data-marketplace/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwardPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "alice")

	entry, err := env.points.AwardPoints(ctx, u.ID, 25, models.ReasonContributionBonus)
	require.NoError(t, err)
	assert.Equal(t, u.ID, entry.UserID)
	assert.Equal(t, int64(25), entry.Points)
	assert.NotEmpty(t, entry.ID)

	got := env.reload(t, u.ID)
	assert.Equal(t, int64(35), got.TotalPoints)
	assert.Equal(t, got.TotalPoints, env.ledgerSum(t, u.ID))
}

func TestAwardPointsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.points.AwardPoints(context.Background(), "missing", 5, models.ReasonAdminGrant)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.False(t, apperr.IsRetryable(err))
}

func TestAwardPointsRequiresInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.points.AwardPoints(context.Background(), "", 5, models.ReasonAdminGrant)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestConcurrentAwards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "bob")

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.points.AwardPoints(ctx, u.ID, 1, "x")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows int64
	require.NoError(t, env.store.DB.Model(&models.PointsEntry{}).Where("user_id = ? AND reason = ?", u.ID, "x").Count(&rows).Error)
	assert.Equal(t, int64(n), rows)
	assert.Equal(t, int64(10+n), env.reload(t, u.ID).TotalPoints)
}

func TestAwardPointsUpdatesLeague(t *testing.T) {
	env := newTestEnv(t)
	u := env.newUser(t, "carol")
	assert.Equal(t, models.LeagueBronze, u.League)

	_, err := env.points.AwardPoints(context.Background(), u.ID, 600, models.ReasonAdminGrant)
	require.NoError(t, err)
	assert.Equal(t, models.LeagueGold, env.reload(t, u.ID).League)
}

func TestAwardIncrementsReferralOnFirstCrossing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.newUser(t, "dana")
	require.NoError(t, env.store.DB.Create(&models.Referral{ID: "r1", UserID: referrer.ID, ReferralCode: "DANA-000001"}).Error)

	referee := env.newUser(t, "eve")
	require.NoError(t, env.users.ApplyReferralCode(ctx, referee.ID, "dana-000001"))

	_, err := env.points.AwardPoints(ctx, referee.ID, 25, models.ReasonContributionBonus)
	require.NoError(t, err)

	var ref models.Referral
	require.NoError(t, env.store.DB.Where("id = ?", "r1").Take(&ref).Error)
	assert.Equal(t, int64(1), ref.SuccessfulRefCount)

	// already above the threshold: no second increment
	_, err = env.points.AwardPoints(ctx, referee.ID, 25, models.ReasonContributionBonus)
	require.NoError(t, err)
	require.NoError(t, env.store.DB.Where("id = ?", "r1").Take(&ref).Error)
	assert.Equal(t, int64(1), ref.SuccessfulRefCount)
}

func TestAwardSurvivesFailedReferralIncrement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referee := env.newUser(t, "frank")
	require.NoError(t, env.store.DB.Model(&models.User{}).Where("id = ?", referee.ID).Update("referred_by", "GONE-000000").Error)
	require.NoError(t, env.store.DB.Migrator().DropTable(&models.Referral{}))

	_, err := env.points.AwardPoints(ctx, referee.ID, 40, models.ReasonAdminGrant)
	require.NoError(t, err)
	assert.Equal(t, int64(50), env.reload(t, referee.ID).TotalPoints)
	assert.Equal(t, int64(50), env.ledgerSum(t, referee.ID))
}

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	u := env.newUser(t, "gina")

	b, err := env.points.GetBalance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.TotalPoints)
	assert.Equal(t, models.LeagueBronze, b.League)
	assert.Equal(t, models.LeagueSilver, b.NextLeague)
	assert.Equal(t, int64(90), b.PointsToNext)

	_, err = env.points.GetBalance(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "hank")
	for i := 0; i < 4; i++ {
		_, err := env.points.AwardPoints(ctx, u.ID, 1, models.ReasonAdminGrant)
		require.NoError(t, err)
	}

	h, err := env.points.GetHistory(ctx, u.ID, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.Total)
	assert.Len(t, h.Entries, 2)
}

func TestAuditTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	good := env.newUser(t, "ivy")
	bad := env.newUser(t, "jack")
	require.NoError(t, env.store.DB.Model(&models.User{}).Where("id = ?", bad.ID).Update("total_points", 999).Error)

	mismatches, err := env.points.AuditTotals(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, bad.ID, mismatches[0].UserID)
	assert.Equal(t, int64(999), mismatches[0].TotalPoints)
	assert.Equal(t, int64(10), mismatches[0].LedgerSum)
	assert.NotEqual(t, good.ID, mismatches[0].UserID)
}

func TestReservedReasons(t *testing.T) {
	for _, r := range []models.PointsReason{models.ReasonFirstAccessBonus, models.ReasonContributionBonus, models.ReasonReferralSuccessBonus} {
		assert.True(t, r.Reserved(), r)
	}
	assert.False(t, models.ReasonAdminGrant.Reserved())
	assert.False(t, models.PointsReason("support_credit").Reserved())
}
