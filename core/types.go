package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user account in the loyalty domain.
type UserID string

// ActionType names a user action that can earn points (post, like, redeem, invite...).
type ActionType string

// Well-known action types. The catalog may define rules for additional ones.
const (
	ActionPost   ActionType = "post"
	ActionLike   ActionType = "like"
	ActionRedeem ActionType = "redeem"
	ActionInvite ActionType = "invite"
)

// Internal action types used on ledger records the engine itself writes.
// Badge bonuses are credited rule-free under ActionBadgeBonus so they never
// feed back into daily-limit counts or count-threshold badges; reward
// redemptions debit under ActionRewardRedeem.
const (
	ActionBadgeBonus   ActionType = "badge_bonus"
	ActionRewardRedeem ActionType = "reward_redeem"
)

// Badge represents a named achievement identifier.
type Badge string

// TierID references a loyalty tier; the empty value means "no tier".
type TierID string

// Account is the durable ledger state for one user. Balance and Streak are
// denormalized counters maintained exclusively through the Ledger's atomic
// operations; both are never negative.
type Account struct {
	ID         UserID     `json:"id"`
	Balance    int64      `json:"balance"`
	Streak     int        `json:"streak"`
	Tier       TierID     `json:"tier,omitempty"`
	LastPostAt *time.Time `json:"last_post_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a copy safe to hand out across goroutines.
func (a Account) Clone() Account {
	cp := a
	if a.LastPostAt != nil {
		t := *a.LastPostAt
		cp.LastPostAt = &t
	}
	return cp
}

// RewardRule maps an action type to its base award. Rules are reference data:
// read-only during engine operation, edited only by an external admin flow.
type RewardRule struct {
	Action     ActionType `json:"action"`
	Points     int64      `json:"points"`
	Multiplier float64    `json:"multiplier"`
	DailyLimit int        `json:"daily_limit,omitempty"` // 0 means unlimited
	Active     bool       `json:"active"`
}

// ActivityRecord is one append-only audit entry. Positive deltas come from
// awards and badge bonuses, negative deltas from redemptions. Records are
// never mutated or deleted; they back daily-limit counting, count-threshold
// badges, and streak derivation.
type ActivityRecord struct {
	UserID     UserID     `json:"user_id"`
	Action     ActionType `json:"action"`
	Delta      int64      `json:"delta"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// BadgeGrant marks an earned badge. Day is empty for one-time badges; for
// daily-scoped badges it carries the calendar day so the uniqueness key
// becomes (UserID, Badge, Day). Grants are immutable once written.
type BadgeGrant struct {
	UserID    UserID    `json:"user_id"`
	Badge     Badge     `json:"badge"`
	Bonus     int64     `json:"bonus"`
	Day       string    `json:"day,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// Key returns the uniqueness key for this grant.
func (g BadgeGrant) Key() string {
	if g.Day == "" {
		return string(g.UserID) + "|" + string(g.Badge)
	}
	return string(g.UserID) + "|" + string(g.Badge) + "|" + g.Day
}

// LoyaltyTier is one row of the ordered tier table. A user's tier is the
// tier with the greatest MinPoints not exceeding the balance.
type LoyaltyTier struct {
	ID        TierID `json:"id"`
	Name      string `json:"name"`
	MinPoints int64  `json:"min_points"`
}

// RedemptionRecord captures one redemption attempt. Rejected attempts are
// stored with Succeeded=false for audit; they carry no balance mutation.
type RedemptionRecord struct {
	UserID     UserID    `json:"user_id"`
	RewardID   string    `json:"reward_id"`
	Cost       int64     `json:"cost"`
	RedeemedAt time.Time `json:"redeemed_at"`
	Succeeded  bool      `json:"succeeded"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeID ensures non-empty badge id with simple charset check.
func ValidateBadgeID(b Badge) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return errors.New("empty badge id")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid badge id")
	}
	return nil
}
