package services

import (
	"context"
	"testing"

	"data-marketplace/apperr"
	"data-marketplace/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestReconcileIdentityCreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, created, err := env.users.ReconcileIdentity(ctx, Identity{ExternalID: "ext-1", Email: strPtr(" Rita@Example.com "), Username: "rita"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(10), u.TotalPoints)
	require.NotNil(t, u.Email)
	assert.Equal(t, "rita@example.com", *u.Email)

	again, created, err := env.users.ReconcileIdentity(ctx, Identity{ExternalID: "ext-1", WalletAddress: strPtr("0xw")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	require.NotNil(t, again.WalletAddress)
	assert.Equal(t, "0xw", *again.WalletAddress)
	assert.Equal(t, int64(10), again.TotalPoints)

	var entries int64
	require.NoError(t, env.store.DB.Model(&models.PointsEntry{}).Where("user_id = ?", u.ID).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestReconcileIdentityFallsBackToEmailAndWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, _, err := env.users.ReconcileIdentity(ctx, Identity{ExternalID: "ext-1", Email: strPtr("sam@example.com"), WalletAddress: strPtr("0xsam")})
	require.NoError(t, err)

	byEmail, created, err := env.users.ReconcileIdentity(ctx, Identity{ExternalID: "ext-2", Email: strPtr("SAM@example.com")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, byEmail.ID)

	byWallet, created, err := env.users.ReconcileIdentity(ctx, Identity{ExternalID: "ext-3", WalletAddress: strPtr("0xsam")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, byWallet.ID)
}

func TestReconcileIdentityRequiresExternalID(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.users.ReconcileIdentity(context.Background(), Identity{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestApplyReferralCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "tara")
	require.NoError(t, env.store.DB.Create(&models.Referral{ID: "r1", UserID: owner.ID, ReferralCode: "TARA-ABCDEF"}).Error)
	u := env.newUser(t, "uma")

	err := env.users.ApplyReferralCode(ctx, owner.ID, "TARA-ABCDEF")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	err = env.users.ApplyReferralCode(ctx, u.ID, "NOPE-000000")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	require.NoError(t, env.users.ApplyReferralCode(ctx, u.ID, " tara-abcdef "))
	got := env.reload(t, u.ID)
	require.NotNil(t, got.ReferredBy)
	assert.Equal(t, "TARA-ABCDEF", *got.ReferredBy)

	err = env.users.ApplyReferralCode(ctx, u.ID, "TARA-ABCDEF")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	err = env.users.ApplyReferralCode(ctx, "missing", "TARA-ABCDEF")
	assert.True(t, apperr.IsNotFound(err))
}

func TestSyncWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "vic")

	found, err := env.users.SyncWallet(ctx, u.ExternalID, "0xvic")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0xvic", *env.reload(t, u.ID).WalletAddress)

	found, err = env.users.SyncWallet(ctx, "nobody", "0x1")
	require.NoError(t, err)
	assert.False(t, found)
}
