package engine

import (
	"context"
	"fmt"

	"loyaltyledger/core"
)

// EvaluateTier derives the correct loyalty tier from the balance against the
// catalog's threshold table and performs the transition when the stored
// reference disagrees. A pure derivation: it moves the tier reference, never
// points. "Upgraded" includes the transition away from "no tier".
func (s *Service) EvaluateTier(ctx context.Context, user core.UserID, balance int64) (TierStatus, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return TierStatus{}, err
	}
	acct, err := s.ledger.GetAccount(ctx, normalized)
	if err != nil {
		return TierStatus{}, err
	}

	var current core.TierID
	if t, ok := s.cat.TierFor(balance); ok {
		current = t.ID
	}

	status := TierStatus{Previous: acct.Tier, Current: current}
	if current != acct.Tier {
		if err := s.ledger.SetTier(ctx, normalized, current); err != nil {
			return TierStatus{}, fmt.Errorf("set tier: %w", err)
		}
		status.Upgraded = true
		s.bus.Publish(ctx, core.NewTierUpgraded(normalized, acct.Tier, current, balance))
	}
	if next, ok := s.cat.NextTier(balance); ok {
		status.Next = &next
		status.PointsToNext = next.MinPoints - balance
	}
	return status, nil
}
