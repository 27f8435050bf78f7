// Package catalog holds the reward configuration the engine evaluates
// against: reward rules per action, badge tables, the loyalty tier table,
// and the streak bonus curve. The catalog is reference data — read-only
// during engine operation, replaced wholesale by an admin flow.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"loyaltyledger/core"
)

// CountBadge is granted when a user's lifetime count of one action type
// reaches Threshold (e.g. the 1st post, the 50th like given).
type CountBadge struct {
	Action    core.ActionType `json:"action"`
	Threshold int             `json:"threshold"`
	Badge     core.Badge      `json:"badge"`
	Bonus     int64           `json:"bonus"`
}

// MilestoneBadge is granted when the point balance first reaches Threshold.
type MilestoneBadge struct {
	Threshold int64      `json:"threshold"`
	Badge     core.Badge `json:"badge"`
	Bonus     int64      `json:"bonus"`
}

// StreakBadge is granted when the daily streak reaches Days.
type StreakBadge struct {
	Days  int        `json:"days"`
	Badge core.Badge `json:"badge"`
	Bonus int64      `json:"bonus"`
}

// StreakBonus describes the streak multiplier curve: once a streak reaches
// MinDays, the multiplier is min(1 + streak*PerDay, Max); below MinDays it
// stays 1.0.
type StreakBonus struct {
	MinDays int     `json:"min_days"`
	PerDay  float64 `json:"per_day"`
	Max     float64 `json:"max"`
}

// Multiplier returns the streak bonus multiplier for a streak length.
func (b StreakBonus) Multiplier(streak int) float64 {
	if streak < b.MinDays {
		return 1.0
	}
	return math.Min(1.0+float64(streak)*b.PerDay, b.Max)
}

// Catalog bundles all reward configuration.
type Catalog struct {
	Rules           map[core.ActionType]core.RewardRule `json:"rules"`
	CountBadges     []CountBadge                        `json:"count_badges"`
	MilestoneBadges []MilestoneBadge                    `json:"milestone_badges"`
	StreakBadges    []StreakBadge                       `json:"streak_badges"`
	Tiers           []core.LoyaltyTier                  `json:"tiers"`
	StreakBonus     StreakBonus                         `json:"streak_bonus"`
}

// Rule returns the active rule for an action, or ok=false when the action
// has no rule or the rule is inactive. "No rule" is a normal outcome, not
// an error.
func (c *Catalog) Rule(action core.ActionType) (core.RewardRule, bool) {
	r, ok := c.Rules[action]
	if !ok || !r.Active {
		return core.RewardRule{}, false
	}
	return r, true
}

// TierFor returns the tier with the greatest MinPoints not exceeding
// balance, or ok=false when the balance is below every tier.
func (c *Catalog) TierFor(balance int64) (core.LoyaltyTier, bool) {
	for i := len(c.Tiers) - 1; i >= 0; i-- {
		if c.Tiers[i].MinPoints <= balance {
			return c.Tiers[i], true
		}
	}
	return core.LoyaltyTier{}, false
}

// NextTier returns the cheapest tier strictly above balance, or ok=false
// when the user already sits at the top.
func (c *Catalog) NextTier(balance int64) (core.LoyaltyTier, bool) {
	for _, t := range c.Tiers {
		if t.MinPoints > balance {
			return t, true
		}
	}
	return core.LoyaltyTier{}, false
}

// PostActions lists the action types counted as "posts" for streak and
// leaderboard purposes.
func (c *Catalog) PostActions() []core.ActionType {
	return []core.ActionType{core.ActionPost}
}

// Validate checks internal consistency: tier ordering, thresholds, and
// rule sanity. Called at load time so the engine can trust the tables.
func (c *Catalog) Validate() error {
	var errs []string
	for action, r := range c.Rules {
		if r.Action != action {
			errs = append(errs, fmt.Sprintf("rule %q: key does not match rule action %q", action, r.Action))
		}
		if r.Points < 0 {
			errs = append(errs, fmt.Sprintf("rule %q: points must be >= 0", action))
		}
		if r.Multiplier < 1 {
			errs = append(errs, fmt.Sprintf("rule %q: multiplier must be >= 1", action))
		}
		if r.DailyLimit < 0 {
			errs = append(errs, fmt.Sprintf("rule %q: daily_limit must be >= 0", action))
		}
	}
	if !sort.SliceIsSorted(c.Tiers, func(i, j int) bool {
		return c.Tiers[i].MinPoints < c.Tiers[j].MinPoints
	}) {
		errs = append(errs, "tiers must be sorted ascending by min_points")
	}
	seen := map[core.TierID]struct{}{}
	for _, t := range c.Tiers {
		if t.ID == "" {
			errs = append(errs, "tier with empty id")
		}
		if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate tier id %q", t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	if !sort.SliceIsSorted(c.MilestoneBadges, func(i, j int) bool {
		return c.MilestoneBadges[i].Threshold < c.MilestoneBadges[j].Threshold
	}) {
		errs = append(errs, "milestone badges must be sorted ascending by threshold")
	}
	for _, b := range c.CountBadges {
		if b.Threshold <= 0 {
			errs = append(errs, fmt.Sprintf("count badge %q: threshold must be > 0", b.Badge))
		}
		if err := core.ValidateBadgeID(b.Badge); err != nil {
			errs = append(errs, fmt.Sprintf("count badge %q: %v", b.Badge, err))
		}
	}
	for _, b := range c.StreakBadges {
		if b.Days <= 0 {
			errs = append(errs, fmt.Sprintf("streak badge %q: days must be > 0", b.Badge))
		}
	}
	if c.StreakBonus.MinDays <= 0 || c.StreakBonus.PerDay < 0 || c.StreakBonus.Max < 1 {
		errs = append(errs, "streak_bonus: min_days must be > 0, per_day >= 0, max >= 1")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Default returns the production catalog.
func Default() *Catalog {
	return &Catalog{
		Rules: map[core.ActionType]core.RewardRule{
			core.ActionPost:   {Action: core.ActionPost, Points: 50, Multiplier: 1, Active: true},
			core.ActionLike:   {Action: core.ActionLike, Points: 5, Multiplier: 1, DailyLimit: 20, Active: true},
			core.ActionRedeem: {Action: core.ActionRedeem, Points: 25, Multiplier: 1, DailyLimit: 3, Active: true},
			core.ActionInvite: {Action: core.ActionInvite, Points: 100, Multiplier: 1.5, Active: true},
		},
		CountBadges: []CountBadge{
			{Action: core.ActionPost, Threshold: 1, Badge: "first-post", Bonus: 25},
			{Action: core.ActionPost, Threshold: 10, Badge: "regular-poster", Bonus: 50},
			{Action: core.ActionLike, Threshold: 50, Badge: "supporter", Bonus: 30},
			{Action: core.ActionRedeem, Threshold: 5, Badge: "deal-hunter", Bonus: 50},
			{Action: core.ActionInvite, Threshold: 3, Badge: "connector", Bonus: 75},
		},
		MilestoneBadges: []MilestoneBadge{
			{Threshold: 500, Badge: "rising-star", Bonus: 25},
			{Threshold: 2500, Badge: "point-collector", Bonus: 100},
			{Threshold: 10000, Badge: "legend", Bonus: 500},
		},
		StreakBadges: []StreakBadge{
			{Days: 7, Badge: "week-streak", Bonus: 50},
			{Days: 14, Badge: "fortnight-streak", Bonus: 125},
			{Days: 30, Badge: "month-streak", Bonus: 300},
		},
		Tiers: []core.LoyaltyTier{
			{ID: "bronze", Name: "Bronze", MinPoints: 0},
			{ID: "silver", Name: "Silver", MinPoints: 1000},
			{ID: "gold", Name: "Gold", MinPoints: 2500},
			{ID: "platinum", Name: "Platinum", MinPoints: 5000},
		},
		StreakBonus: StreakBonus{MinDays: 7, PerDay: 0.02, Max: 2.0},
	}
}
