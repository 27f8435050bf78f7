package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/catalog"
	"loyaltyledger/core"
)

// conflictLedger fails CreditPoints/DebitPoints with ErrConflict a fixed
// number of times before delegating to the in-memory store.
type conflictLedger struct {
	*mem.Store
	creditConflicts int
	debitConflicts  int
	creditCalls     int
	debitCalls      int
}

func (l *conflictLedger) CreditPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	l.creditCalls++
	if l.creditConflicts > 0 {
		l.creditConflicts--
		return 0, core.ErrConflict
	}
	return l.Store.CreditPoints(ctx, id, rec)
}

func (l *conflictLedger) DebitPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	l.debitCalls++
	if l.debitConflicts > 0 {
		l.debitConflicts--
		return 0, core.ErrConflict
	}
	return l.Store.DebitPoints(ctx, id, rec)
}

func TestAwardRetriesCreditOnConflict(t *testing.T) {
	ledger := &conflictLedger{Store: mem.New(), creditConflicts: 2}
	svc := NewService(ledger, catalog.Default(), NewEventBus(DispatchSync))
	ctx := context.Background()
	mustCreate(t, svc, "alice")

	res, err := svc.AwardPoints(ctx, "alice", core.ActionLike, AwardMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwarded || res.Points != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ledger.creditCalls != 3 {
		t.Fatalf("expected 3 credit attempts, got %d", ledger.creditCalls)
	}
}

func TestAwardSurfacesConflictWhenRetriesExhausted(t *testing.T) {
	ledger := &conflictLedger{Store: mem.New(), creditConflicts: 10}
	svc := NewService(ledger, catalog.Default(), NewEventBus(DispatchSync))
	ctx := context.Background()
	mustCreate(t, svc, "alice")

	_, err := svc.AwardPoints(ctx, "alice", core.ActionLike, AwardMeta{})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if ledger.creditCalls != maxConflictRetries+1 {
		t.Fatalf("expected %d credit attempts, got %d", maxConflictRetries+1, ledger.creditCalls)
	}
	// No partial write happened, so the balance is untouched.
	acct, err := svc.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 0 {
		t.Fatalf("balance mutated across failed retries: %d", acct.Balance)
	}
}

func TestRedeemRetriesDebitOnConflict(t *testing.T) {
	ledger := &conflictLedger{Store: mem.New(), debitConflicts: 1}
	svc := NewService(ledger, catalog.Default(), NewEventBus(DispatchSync))
	ctx := context.Background()
	mustCreate(t, svc, "alice")
	if _, err := ledger.Store.CreditPoints(ctx, "alice", core.ActivityRecord{
		UserID: "alice", Action: core.ActionInvite, Delta: 100, OccurredAt: svc.now(),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RedeemReward(ctx, "alice", "coffee", 40)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded || res.Balance != 60 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ledger.debitCalls != 2 {
		t.Fatalf("expected 2 debit attempts, got %d", ledger.debitCalls)
	}
}

// brokenStreakLedger refuses every streak write.
type brokenStreakLedger struct {
	*mem.Store
}

func (l *brokenStreakLedger) SetStreak(context.Context, core.UserID, int) error {
	return errors.New("streak write refused")
}

func TestAwardLogsFailedStreakWrite(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ledger := &brokenStreakLedger{Store: mem.New()}
	svc := NewService(ledger, catalog.Default(), NewEventBus(DispatchSync))
	ctx := context.Background()
	mustCreate(t, svc, "alice")

	res, err := svc.AwardPoints(ctx, "alice", core.ActionPost, AwardMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwarded {
		t.Fatalf("award must survive a failed streak write, got %+v", res)
	}
	if !strings.Contains(buf.String(), "streak update failed") {
		t.Fatalf("expected a warning about the streak write, log: %s", buf.String())
	}
}
