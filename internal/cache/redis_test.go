package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/crewsnow/internal/cache"
	"github.com/oggyb/crewsnow/internal/config"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	return mr, cache.NewRedisCache(cfg)
}

func TestAcquireWindow(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupCache(t)
	key := rc.KeyForLikeSpacing("u1")

	ok, err := rc.AcquireWindow(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "first claim succeeds")

	ok, err = rc.AcquireWindow(ctx, key, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second claim inside the window is refused")

	mr.FastForward(1100 * time.Millisecond)

	ok, err = rc.AcquireWindow(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

func TestAcquireWindow_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	_, rc := setupCache(t)

	ok1, err := rc.AcquireWindow(ctx, rc.KeyForLikeSpacing("u1"), time.Second)
	require.NoError(t, err)
	ok2, err := rc.AcquireWindow(ctx, rc.KeyForLikeSpacing("u2"), time.Second)
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestJSONRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupCache(t)
	key := rc.KeyForCandidates("u1", 21)

	type row struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}

	var got []row
	hit, err := rc.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, rc.SetJSON(ctx, key, []row{{ID: "a", Score: 7.5}}, time.Minute))

	hit, err = rc.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []row{{ID: "a", Score: 7.5}}, got)

	mr.FastForward(2 * time.Minute)
	hit, err = rc.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit, "entry expired")
}

func TestGetJSON_CorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupCache(t)
	key := rc.KeyForCandidates("u1", 21)
	require.NoError(t, mr.Set(key, "{not json"))

	var dst []string
	hit, err := rc.GetJSON(ctx, key, &dst)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists(key), "corrupt entry removed")
}
