package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyledger/core"
)

// newTestStore spins up a miniredis server and returns a Store plus cleanup.
func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewWithClient(client)
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return store, cleanup
}

func createTestAccount(t *testing.T, store *Store, id core.UserID) {
	t.Helper()
	_, err := store.CreateAccount(context.Background(), id)
	require.NoError(t, err)
}

func TestStore_CreateAccount(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), acct.ID)
	assert.Equal(t, int64(0), acct.Balance)

	_, err = store.CreateAccount(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrAccountExists)
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStore_CreditPoints(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	bal, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionLike, Delta: 50, OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)

	bal, err = store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionLike, Delta: 25, OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(75), bal)

	_, err = store.CreditPoints(ctx, "ghost", core.ActivityRecord{
		UserID: "ghost", Action: core.ActionLike, Delta: 1, OccurredAt: time.Now(),
	})
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStore_CreditPoints_StampsLastPost(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionPost, Delta: 50, OccurredAt: at,
	})
	require.NoError(t, err)

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, acct.LastPostAt)
	assert.True(t, acct.LastPostAt.Equal(at))
}

func TestStore_DebitPoints(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	_, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionPost, Delta: 300, OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	bal, err := store.DebitPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionRewardRedeem, Delta: -100, OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)

	// Rejection leaves the balance untouched and reports it.
	bal, err = store.DebitPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionRewardRedeem, Delta: -500, OccurredAt: time.Now(),
	})
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, int64(200), bal)
}

func TestStore_CountActivity_DailyWindow(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	today := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
			UserID: "alice", Action: core.ActionLike, Delta: 5, OccurredAt: today.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionLike, Delta: 5, OccurredAt: today.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	from, to := core.DayBounds(today, time.UTC)
	n, err := store.CountActivity(ctx, "alice", core.ActionLike, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.CountActivity(ctx, "alice", core.ActionLike, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_LastActivity(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	rec, err := store.LastActivity(ctx, "alice", core.ActionPost)
	require.NoError(t, err)
	assert.Nil(t, rec)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionPost, Delta: 50, OccurredAt: at,
	})
	require.NoError(t, err)

	rec, err = store.LastActivity(ctx, "alice", core.ActionPost)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(50), rec.Delta)
}

func TestStore_GrantBadge_Idempotent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	g := core.BadgeGrant{UserID: "alice", Badge: "first-post", Bonus: 25, GrantedAt: time.Now().UTC()}
	ok, err := store.GrantBadge(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.GrantBadge(ctx, g)
	require.NoError(t, err)
	assert.False(t, ok)

	badges, err := store.Badges(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, badges, 1)
	assert.Equal(t, core.Badge("first-post"), badges[0].Badge)
}

func TestStore_GrantBadge_ConcurrentSingleWinner(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.GrantBadge(ctx, core.BadgeGrant{UserID: "alice", Badge: "race", GrantedAt: time.Now().UTC()})
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	granted := 0
	for ok := range wins {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 1, granted)
}

func TestStore_StreakAndTier(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	require.NoError(t, store.SetStreak(ctx, "alice", 9))
	require.NoError(t, store.SetTier(ctx, "alice", "gold"))

	acct, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 9, acct.Streak)
	assert.Equal(t, core.TierID("gold"), acct.Tier)

	assert.ErrorIs(t, store.SetStreak(ctx, "ghost", 1), core.ErrAccountNotFound)
}

func TestStore_AccountsAndPostCounts(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")
	createTestAccount(t, store, "bob")

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		_, err := store.CreditPoints(ctx, "alice", core.ActivityRecord{
			UserID: "alice", Action: core.ActionPost, Delta: 50, OccurredAt: now,
		})
		require.NoError(t, err)
	}

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	counts, err := store.PostCounts(ctx, []core.ActionType{core.ActionPost}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["alice"])
	assert.Zero(t, counts["bob"])
}

func TestStore_RecordRedemption(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	err := store.RecordRedemption(ctx, core.RedemptionRecord{
		UserID: "alice", RewardID: "coffee", Cost: 100, RedeemedAt: time.Now().UTC(), Succeeded: true,
	})
	require.NoError(t, err)

	err = store.RecordRedemption(ctx, core.RedemptionRecord{UserID: "ghost", RewardID: "x", Cost: 1})
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestStore_CountActivity_ReferenceTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewWithClient(client, WithLocation(tokyo))
	ctx := context.Background()
	createTestAccount(t, store, "alice")

	// Morning in Tokyo, still the previous evening in UTC terms of day
	// bounds: the record must land in its Tokyo calendar day.
	occurred := time.Date(2026, 8, 28, 9, 0, 0, 0, tokyo)
	_, err = store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionLike, Delta: 5, OccurredAt: occurred,
	})
	require.NoError(t, err)

	from, to := core.DayBounds(occurred, tokyo)
	n, err := store.CountActivity(ctx, "alice", core.ActionLike, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "record must count inside its reference-timezone day")

	n, err = store.CountActivity(ctx, "alice", core.ActionLike, from.AddDate(0, 0, -1), from)
	require.NoError(t, err)
	assert.Zero(t, n, "previous Tokyo day must be empty")
}
