package engine

import (
	"context"
	"fmt"

	"loyaltyledger/core"
)

// StreakState labels the daily-activity state machine outcome.
type StreakState string

const (
	// StreakNone: the user has never produced a qualifying activity.
	StreakNone StreakState = "no_activity"
	// StreakStarted: first qualifying activity today, counter set to 1.
	StreakStarted StreakState = "started"
	// StreakMaintained: already active today, counter unchanged.
	StreakMaintained StreakState = "maintained"
	// StreakAtRisk: last activity was yesterday; not broken until the day
	// passes without a post.
	StreakAtRisk StreakState = "at_risk"
	// StreakBroken: last activity older than yesterday, counter reset.
	StreakBroken StreakState = "broken"
)

// StreakStatus reports a streak evaluation.
type StreakStatus struct {
	Streak          int               `json:"streak"`
	State           StreakState       `json:"state"`
	BonusMultiplier float64           `json:"bonus_multiplier"`
	NewBadges       []core.BadgeGrant `json:"new_badges,omitempty"`
}

// UpdateStreak runs the daily-activity state machine against the user's most
// recent qualifying (post-type) activity, persists the counter when it
// changes, and grants any newly-reached streak badges with the same
// idempotent discipline as badge evaluation.
func (s *Service) UpdateStreak(ctx context.Context, user core.UserID) (StreakStatus, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return StreakStatus{}, err
	}
	acct, err := s.ledger.GetAccount(ctx, normalized)
	if err != nil {
		return StreakStatus{}, err
	}

	now := s.now()
	last := acct.LastPostAt
	status := StreakStatus{Streak: acct.Streak}

	switch {
	case last == nil:
		status.State = StreakNone
		status.Streak = 0
		if acct.Streak != 0 {
			if err := s.ledger.SetStreak(ctx, normalized, 0); err != nil {
				return StreakStatus{}, fmt.Errorf("reset streak: %w", err)
			}
		}
		status.BonusMultiplier = s.cat.StreakBonus.Multiplier(0)
		return status, nil

	case core.SameDay(*last, now, s.loc):
		if acct.Streak == 0 {
			if err := s.ledger.SetStreak(ctx, normalized, 1); err != nil {
				return StreakStatus{}, fmt.Errorf("start streak: %w", err)
			}
			status.Streak = 1
			status.State = StreakStarted
		} else {
			status.State = StreakMaintained
		}

	case core.IsYesterday(*last, now, s.loc):
		status.State = StreakAtRisk

	default:
		if acct.Streak != 0 {
			if err := s.ledger.SetStreak(ctx, normalized, 0); err != nil {
				return StreakStatus{}, fmt.Errorf("reset streak: %w", err)
			}
		}
		status.Streak = 0
		status.State = StreakBroken
	}

	status.BonusMultiplier = s.cat.StreakBonus.Multiplier(status.Streak)
	s.bus.Publish(ctx, core.NewStreakUpdated(normalized, status.Streak, string(status.State)))

	for _, sb := range s.cat.StreakBadges {
		if status.Streak < sb.Days {
			continue
		}
		g, err := s.grant(ctx, core.BadgeGrant{
			UserID: normalized, Badge: sb.Badge, Bonus: sb.Bonus, GrantedAt: now,
		})
		if err != nil {
			return status, err
		}
		if g != nil {
			status.NewBadges = append(status.NewBadges, *g)
		}
	}
	return status, nil
}
