package engine

import (
	"context"
	"testing"
	"time"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/core"
)

var streakNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func fixedClock() ServiceOption {
	return WithClock(func() time.Time { return streakNow })
}

func postAt(t *testing.T, svc *Service, store *mem.Store, user core.UserID, at time.Time) {
	t.Helper()
	if _, err := store.CreditPoints(context.Background(), user, core.ActivityRecord{
		UserID: user, Action: core.ActionPost, Delta: 50, OccurredAt: at,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateStreak_NoActivity(t *testing.T) {
	svc, _ := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StreakNone || status.Streak != 0 {
		t.Fatalf("expected no_activity with streak 0, got %+v", status)
	}
	if len(status.NewBadges) != 0 {
		t.Fatalf("no badges expected, got %+v", status.NewBadges)
	}
}

func TestUpdateStreak_StartedToday(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.Add(-time.Hour))

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StreakStarted || status.Streak != 1 {
		t.Fatalf("expected started with streak 1, got %+v", status)
	}
}

func TestUpdateStreak_MaintainedToday(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.Add(-time.Hour))
	if err := store.SetStreak(context.Background(), "alice", 4); err != nil {
		t.Fatal(err)
	}

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StreakMaintained || status.Streak != 4 {
		t.Fatalf("expected maintained with streak 4, got %+v", status)
	}
}

func TestUpdateStreak_YesterdayAtRisk(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.AddDate(0, 0, -1))
	if err := store.SetStreak(context.Background(), "alice", 5); err != nil {
		t.Fatal(err)
	}

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StreakAtRisk || status.Streak != 5 {
		t.Fatalf("expected at_risk with streak unchanged at 5, got %+v", status)
	}
}

func TestUpdateStreak_BrokenAfterGap(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.AddDate(0, 0, -3))
	if err := store.SetStreak(context.Background(), "alice", 12); err != nil {
		t.Fatal(err)
	}

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StreakBroken || status.Streak != 0 {
		t.Fatalf("expected broken with streak reset to 0, got %+v", status)
	}
	acct, err := store.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Streak != 0 {
		t.Fatalf("reset must be persisted, got %d", acct.Streak)
	}
}

func TestUpdateStreak_BonusMultiplier(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.Add(-time.Hour))
	if err := store.SetStreak(context.Background(), "alice", 10); err != nil {
		t.Fatal(err)
	}

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.BonusMultiplier != 1.2 {
		t.Fatalf("expected bonus multiplier 1.2 at streak 10, got %v", status.BonusMultiplier)
	}
}

func TestUpdateStreak_StreakBadgeIdempotent(t *testing.T) {
	svc, store := newTestService(t, fixedClock())
	mustCreate(t, svc, "alice")
	postAt(t, svc, store, "alice", streakNow.Add(-time.Hour))
	if err := store.SetStreak(context.Background(), "alice", 7); err != nil {
		t.Fatal(err)
	}

	status, err := svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewBadges) != 1 || status.NewBadges[0].Badge != "week-streak" {
		t.Fatalf("expected week-streak badge, got %+v", status.NewBadges)
	}

	status, err = svc.UpdateStreak(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewBadges) != 0 {
		t.Fatalf("badge must not be granted twice, got %+v", status.NewBadges)
	}
}

func TestAwardPoints_AdvancesStreakAcrossDays(t *testing.T) {
	now := streakNow
	svc, store := newTestService(t, WithClock(func() time.Time { return now }))
	mustCreate(t, svc, "alice")
	ctx := context.Background()

	// Day 1: first post starts the streak.
	if _, err := svc.AwardPoints(ctx, "alice", core.ActionPost, AwardMeta{}); err != nil {
		t.Fatal(err)
	}
	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Streak != 1 {
		t.Fatalf("expected streak 1 after first post, got %d", acct.Streak)
	}

	// Day 2: consecutive-day post extends it.
	now = now.AddDate(0, 0, 1)
	if _, err := svc.AwardPoints(ctx, "alice", core.ActionPost, AwardMeta{}); err != nil {
		t.Fatal(err)
	}
	acct, _ = store.GetAccount(ctx, "alice")
	if acct.Streak != 2 {
		t.Fatalf("expected streak 2, got %d", acct.Streak)
	}

	// Same day again: unchanged.
	if _, err := svc.AwardPoints(ctx, "alice", core.ActionPost, AwardMeta{}); err != nil {
		t.Fatal(err)
	}
	acct, _ = store.GetAccount(ctx, "alice")
	if acct.Streak != 2 {
		t.Fatalf("expected streak unchanged at 2, got %d", acct.Streak)
	}

	// Three days of silence: the next post starts over at 1.
	now = now.AddDate(0, 0, 3)
	if _, err := svc.AwardPoints(ctx, "alice", core.ActionPost, AwardMeta{}); err != nil {
		t.Fatal(err)
	}
	acct, _ = store.GetAccount(ctx, "alice")
	if acct.Streak != 1 {
		t.Fatalf("expected streak restarted at 1, got %d", acct.Streak)
	}
}
