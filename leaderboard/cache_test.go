package leaderboard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/catalog"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/leaderboard"
)

func TestCache_SeedFromLedger(t *testing.T) {
	store := mem.New()
	seedAccount(t, store, "alice", 300, 0, 0)
	seedAccount(t, store, "bob", 900, 0, 0)

	cache := leaderboard.NewCache()
	require.NoError(t, cache.Seed(context.Background(), store))

	top := cache.Top(10)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("bob"), top[0].UserID)
	assert.Equal(t, int64(900), top[0].Score)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, core.UserID("alice"), top[1].UserID)
}

func TestCache_FollowsEvents(t *testing.T) {
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	defer bus.Close()
	svc := engine.NewService(store, catalog.Default(), bus)

	cache := leaderboard.NewCache()
	defer cache.Bind(svc)()
	ctx := context.Background()

	for _, u := range []core.UserID{"alice", "bob"} {
		_, err := svc.CreateAccount(ctx, u)
		require.NoError(t, err)
	}

	// alice: one post = 50 + first-post bonus 25. bob: two posts = 125.
	_, err := svc.AwardPoints(ctx, "alice", core.ActionPost, engine.AwardMeta{})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.AwardPoints(ctx, "bob", core.ActionPost, engine.AwardMeta{})
		require.NoError(t, err)
	}

	top := cache.Top(10)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("bob"), top[0].UserID)
	assert.Equal(t, int64(125), top[0].Score)
	assert.Equal(t, core.UserID("alice"), top[1].UserID)
	assert.Equal(t, int64(75), top[1].Score, "badge bonus must be folded into the cached score")

	// Redemption events move users back down.
	res, err := svc.RedeemReward(ctx, "bob", "coffee", 100)
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	top = cache.Top(10)
	assert.Equal(t, core.UserID("alice"), top[0].UserID)
	assert.Equal(t, int64(25), top[1].Score)
}

func TestBuild_PointsServedFromCache(t *testing.T) {
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	defer bus.Close()
	svc := engine.NewService(store, catalog.Default(), bus)

	cache := leaderboard.NewCache()
	defer cache.Bind(svc)()
	b := leaderboard.NewBuilder(store, catalog.Default(), leaderboard.WithCache(cache))
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.AwardPoints(ctx, "alice", core.ActionPost, engine.AwardMeta{})
	require.NoError(t, err)

	entries, err := b.Build(ctx, leaderboard.MetricPoints, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.UserID("alice"), entries[0].UserID)
	assert.Equal(t, int64(75), entries[0].Score)
	assert.Equal(t, 1, entries[0].Rank)

	// Non-points metrics still rank off the ledger.
	entries, err = b.Build(ctx, leaderboard.MetricStreak, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
