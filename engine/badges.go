package engine

import (
	"context"
	"fmt"
	"time"

	"loyaltyledger/core"
)

// time0 is the zero time, meaning "unbounded" in activity queries.
var time0 time.Time

// EvaluateBadges checks count-threshold badges for the triggering action and
// balance-milestone badges against the committed balance, granting each
// newly-earned badge exactly once.
//
// Idempotency is delegated to Ledger.GrantBadge's store-enforced uniqueness:
// two concurrent evaluations may both decide a badge is due, but only one
// insert wins. Badge bonuses are credited directly to the ledger under
// core.ActionBadgeBonus — never through AwardPoints — so a bonus can't
// trigger further rule evaluation.
func (s *Service) EvaluateBadges(ctx context.Context, user core.UserID, action core.ActionType, balance int64) ([]core.BadgeGrant, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var granted []core.BadgeGrant

	for _, cb := range s.cat.CountBadges {
		if cb.Action != action {
			continue
		}
		count, err := s.ledger.CountActivity(ctx, normalized, action, time0, time0)
		if err != nil {
			return granted, fmt.Errorf("count %s activity: %w", action, err)
		}
		if count < cb.Threshold {
			continue
		}
		g, err := s.grant(ctx, core.BadgeGrant{
			UserID: normalized, Badge: cb.Badge, Bonus: cb.Bonus, GrantedAt: now,
		})
		if err != nil {
			return granted, err
		}
		if g != nil {
			granted = append(granted, *g)
		}
	}

	for _, mb := range s.cat.MilestoneBadges {
		if balance < mb.Threshold {
			break // table is ascending
		}
		g, err := s.grant(ctx, core.BadgeGrant{
			UserID: normalized, Badge: mb.Badge, Bonus: mb.Bonus, GrantedAt: now,
		})
		if err != nil {
			return granted, err
		}
		if g != nil {
			granted = append(granted, *g)
		}
	}
	return granted, nil
}

// grant attempts the idempotent insert and, when it wins, credits the bonus
// and publishes the event. Returns nil when the badge was already held.
func (s *Service) grant(ctx context.Context, g core.BadgeGrant) (*core.BadgeGrant, error) {
	ok, err := s.ledger.GrantBadge(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("grant badge %s: %w", g.Badge, err)
	}
	if !ok {
		return nil, nil
	}
	if g.Bonus > 0 {
		rec := core.ActivityRecord{
			UserID: g.UserID, Action: core.ActionBadgeBonus, Delta: g.Bonus, OccurredAt: g.GrantedAt,
		}
		if _, err := s.credit(ctx, g.UserID, rec); err != nil {
			// The grant is durable; a failed bonus credit is surfaced so the
			// caller can retry the evaluation (the re-grant is a no-op).
			return &g, fmt.Errorf("credit badge bonus %s: %w", g.Badge, err)
		}
	}
	s.bus.Publish(ctx, core.NewBadgeGranted(g.UserID, g.Badge, g.Bonus))
	return &g, nil
}
