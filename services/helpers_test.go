package services

import (
	"context"
	"sync"
	"testing"

	"data-marketplace/config"
	"data-marketplace/models"
	"data-marketplace/store"
	"data-marketplace/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	testPointsConfig   = config.PointsConfig{FirstAccessBonus: 10, ContributionBonus: 20, RefereeSuccessPoints: 30}
	testReferralConfig = config.ReferralConfig{EligibilityPoints: 30, PointsPerReferral: 50}
)

type testEnv struct {
	store         *store.Store
	points        *PointsService
	contributions *ContributionService
	referrals     *ReferralService
	optOut        *OptOutService
	users         *UserService
	archive       *memArchiver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := storetest.New(t)
	points := NewPointsService(st, testPointsConfig)
	archive := &memArchiver{objects: map[string][]byte{}}
	return &testEnv{
		store:         st,
		points:        points,
		contributions: NewContributionService(st),
		referrals:     NewReferralService(st, points, testReferralConfig),
		optOut:        NewOptOutService(st, testPointsConfig, archive),
		users:         NewUserService(st, points, testPointsConfig),
		archive:       archive,
	}
}

// newUser creates a user through identity reconciliation, so it starts
// with the first-access bonus in both the ledger and the total.
func (e *testEnv) newUser(t *testing.T, username string) *models.User {
	t.Helper()
	u, created, err := e.users.ReconcileIdentity(context.Background(), Identity{
		ExternalID: "ext-" + uuid.NewString(),
		Username:   username,
	})
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (e *testEnv) reload(t *testing.T, id string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, e.store.DB.Where("id = ?", id).Take(&u).Error)
	return u
}

func (e *testEnv) ledgerSum(t *testing.T, userID string) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, e.store.DB.Model(&models.PointsEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error)
	return sum
}

type memArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memArchiver) Archive(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
	return nil
}
