package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/dbtest"
	"github.com/oggyb/crewsnow/internal/repository"
)

func TestEnsureProfile(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.OpenSQLite(t)
	repo := repository.NewUserRepository(gdb)
	id := uuid.NewString()

	u, created, err := repo.EnsureProfile(ctx, id, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsActive)
	assert.False(t, u.OnboardingCompleted)
	assert.False(t, u.IsPremium)

	// an existing profile is never overwritten
	require.NoError(t, gdb.Model(&db.User{}).Where("id = ?", id).Update("username", "powder_alice").Error)
	u, created, err = repo.EnsureProfile(ctx, id, "other@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "powder_alice", u.Username)

	var n int64
	require.NoError(t, gdb.Model(&db.User{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// Returning users are served by a single read, with no insert attempted.
func TestEnsureProfile_ExistingSkipsInsert(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.OpenSQLite(t)
	repo := repository.NewUserRepository(gdb)
	id := uuid.NewString()

	var inserts int
	require.NoError(t, gdb.Callback().Create().Before("gorm:create").
		Register("test:count_inserts", func(*gorm.DB) { inserts++ }))

	_, created, err := repo.EnsureProfile(ctx, id, "dana@example.com")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 1, inserts)

	for i := 0; i < 3; i++ {
		u, created, err := repo.EnsureProfile(ctx, id, "dana@example.com")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, id, u.ID)
	}
	assert.Equal(t, 1, inserts)
}

func TestDefaultUsername(t *testing.T) {
	assert.Equal(t, "bob", repository.DefaultUsername("0b8f0c1e-aaaa", "bob@example.com"))
	assert.Equal(t, "user_0b8f0c1e", repository.DefaultUsername("0b8f0c1e-aaaa", ""))
	assert.Equal(t, "user_0b8f0c1e", repository.DefaultUsername("0b8f0c1e-aaaa", "@example.com"))
}

func TestSetPremiumByCustomer(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.OpenSQLite(t)
	repo := repository.NewUserRepository(gdb)
	cus := "cus_123"
	u := dbtest.User(t, gdb, uuid.NewString(), "carol", func(u *db.User) { u.StripeCustomerID = &cus })

	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	found, err := repo.SetPremiumByCustomer(ctx, cus, true, &expires)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPremium)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.True(t, expires.Equal(*got.PremiumExpiresAt))

	found, err = repo.SetPremiumByCustomer(ctx, cus, false, nil)
	require.NoError(t, err)
	assert.True(t, found)
	got, err = repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPremium)
	assert.Nil(t, got.PremiumExpiresAt)

	found, err = repo.SetPremiumByCustomer(ctx, "cus_unknown", true, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestActiveStation(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.OpenSQLite(t)
	repo := repository.NewUserRepository(gdb)
	u := dbtest.User(t, gdb, uuid.NewString(), "dave")

	st, err := repo.ActiveStation(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, st)

	now := time.Now().UTC()
	require.NoError(t, gdb.Create(&db.UserStationStatus{
		UserID: u.ID, StationID: "station-1", IsActive: true,
		DateFrom: now, DateTo: now.AddDate(0, 0, 3),
	}).Error)

	st, err = repo.ActiveStation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "station-1", st)
}
