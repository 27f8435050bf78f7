package engine

import (
	"context"
	"time"

	"loyaltyledger/core"
)

// Ledger abstracts the durable account of truth. Every mutation is atomic at
// the store level: the engine holds no locks across calls, and multiple
// engine instances may hit the same store concurrently. Implementations
// return the core sentinel errors so the service can branch on them.
type Ledger interface {
	// CreateAccount provisions a zero-balance account. core.ErrAccountExists
	// on duplicate id.
	CreateAccount(ctx context.Context, id core.UserID) (core.Account, error)

	// GetAccount returns a snapshot. core.ErrAccountNotFound when absent.
	GetAccount(ctx context.Context, id core.UserID) (core.Account, error)

	// CreditPoints atomically increments the balance by rec.Delta (> 0) and
	// appends rec to the activity log as one operation. Returns the new
	// balance. Concurrent credits for the same account must not lose updates.
	// When rec.Action is core.ActionPost the store also stamps the account's
	// LastPostAt with rec.OccurredAt (streak derivation reads it).
	CreditPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error)

	// DebitPoints atomically checks the balance against -rec.Delta (rec.Delta
	// < 0) and, only if sufficient, decrements it and appends rec. Returns
	// core.ErrInsufficientBalance with no mutation otherwise. There is no
	// read-then-write window: the check and decrement are one operation.
	DebitPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error)

	// CountActivity counts credit records for (id, action) in [from, to).
	// Zero from/to mean unbounded on that side.
	CountActivity(ctx context.Context, id core.UserID, action core.ActionType, from, to time.Time) (int, error)

	// LastActivity returns the most recent record for (id, action), or nil.
	LastActivity(ctx context.Context, id core.UserID, action core.ActionType) (*core.ActivityRecord, error)

	// GrantBadge inserts the grant if and only if no grant with the same
	// uniqueness key exists; the constraint is enforced by the store, not by
	// a prior read. Returns false when the badge was already held.
	GrantBadge(ctx context.Context, grant core.BadgeGrant) (bool, error)

	// Badges lists all grants for a user.
	Badges(ctx context.Context, id core.UserID) ([]core.BadgeGrant, error)

	// SetStreak stores the streak counter (>= 0).
	SetStreak(ctx context.Context, id core.UserID, streak int) error

	// SetTier stores the cached tier reference.
	SetTier(ctx context.Context, id core.UserID, tier core.TierID) error

	// RecordRedemption appends a redemption audit record (both outcomes).
	RecordRedemption(ctx context.Context, rec core.RedemptionRecord) error

	// Accounts returns a snapshot of all accounts, for leaderboard reads.
	Accounts(ctx context.Context) ([]core.Account, error)

	// PostCounts aggregates credit-record counts per user over the given
	// action types in [from, to); zero times mean all time.
	PostCounts(ctx context.Context, actions []core.ActionType, from, to time.Time) (map[core.UserID]int, error)
}
