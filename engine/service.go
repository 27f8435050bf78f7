package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"loyaltyledger/catalog"
	"loyaltyledger/core"
)

// Bounded retry policy for store-level conflicts. A conflicted mutation left
// no partial write, so retrying is always safe.
const (
	maxConflictRetries = 3
	retryBaseDelay     = 5 * time.Millisecond
)

// AwardOutcome classifies the result of AwardPoints. Zero-point outcomes are
// normal business results, never errors.
type AwardOutcome string

const (
	OutcomeAwarded    AwardOutcome = "awarded"
	OutcomeNoRule     AwardOutcome = "no_rule"
	OutcomeDailyLimit AwardOutcome = "daily_limit"
)

// AwardMeta is the closed, typed parameter set accepted with an award call.
type AwardMeta struct {
	// Source identifies the caller surface (feed, webhook, admin...).
	Source string `json:"source,omitempty"`
	// RefID points at the domain object that triggered the action
	// (post id, deal id, invited user id).
	RefID string `json:"ref_id,omitempty"`
}

// AwardResult is the combined outcome of one point-granting transaction.
type AwardResult struct {
	Outcome    AwardOutcome      `json:"outcome"`
	Points     int64             `json:"points"`
	Balance    int64             `json:"balance"`
	Multiplier float64           `json:"multiplier,omitempty"`
	DailyLimit int               `json:"daily_limit,omitempty"`
	NewBadges  []core.BadgeGrant `json:"new_badges,omitempty"`
	Tier       *TierStatus       `json:"tier,omitempty"`
}

// TierStatus reports a tier evaluation.
type TierStatus struct {
	Upgraded     bool              `json:"upgraded"`
	Previous     core.TierID       `json:"previous,omitempty"`
	Current      core.TierID       `json:"current,omitempty"`
	Next         *core.LoyaltyTier `json:"next,omitempty"`
	PointsToNext int64             `json:"points_to_next,omitempty"`
}

// RedeemResult reports a redemption attempt.
type RedeemResult struct {
	Succeeded bool  `json:"succeeded"`
	Spent     int64 `json:"spent"`
	Balance   int64 `json:"balance"`
}

// Service orchestrates awards, redemptions, badge and tier evaluation, and
// streak tracking against a Ledger. It is stateless between calls: all
// correctness under concurrency is delegated to the Ledger's atomic
// contract, so any number of Service instances may share one store.
type Service struct {
	ledger Ledger
	cat    *catalog.Catalog
	bus    *EventBus
	loc    *time.Location
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLocation sets the reference timezone for calendar-day boundaries.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(ledger Ledger, cat *catalog.Catalog, bus *EventBus, opts ...ServiceOption) *Service {
	if ledger == nil || cat == nil || bus == nil {
		panic("NewService requires non-nil ledger, catalog, and bus")
	}
	s := &Service{ledger: ledger, cat: cat, bus: bus, loc: time.UTC, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Catalog exposes the reward configuration (read-only).
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// Location exposes the reference timezone.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Close() { s.bus.Close() }

// CreateAccount provisions a new ledger account.
func (s *Service) CreateAccount(ctx context.Context, user core.UserID) (core.Account, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Account{}, err
	}
	return s.ledger.CreateAccount(ctx, normalized)
}

// GetAccount returns the account snapshot.
func (s *Service) GetAccount(ctx context.Context, user core.UserID) (core.Account, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Account{}, err
	}
	return s.ledger.GetAccount(ctx, normalized)
}

// Badges lists the badges a user holds, oldest first.
func (s *Service) Badges(ctx context.Context, user core.UserID) ([]core.BadgeGrant, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.ledger.Badges(ctx, normalized)
}

// AwardPoints runs one point-granting transaction: resolve the rule, enforce
// the daily cap, stack rule and streak multipliers, atomically credit the
// balance, then evaluate badges and tier on the committed value.
//
// Unknown users are fatal; a missing rule or an exhausted daily cap are
// zero-award results distinguishable through AwardResult.Outcome.
func (s *Service) AwardPoints(ctx context.Context, user core.UserID, action core.ActionType, meta AwardMeta) (AwardResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return AwardResult{}, err
	}
	acct, err := s.ledger.GetAccount(ctx, normalized)
	if err != nil {
		return AwardResult{}, err
	}

	rule, ok := s.cat.Rule(action)
	if !ok {
		return AwardResult{Outcome: OutcomeNoRule, Balance: acct.Balance}, nil
	}

	now := s.now()
	if rule.DailyLimit > 0 {
		dayStart, dayEnd := core.DayBounds(now, s.loc)
		count, err := s.ledger.CountActivity(ctx, normalized, action, dayStart, dayEnd)
		if err != nil {
			return AwardResult{}, fmt.Errorf("count daily activity: %w", err)
		}
		if count >= rule.DailyLimit {
			return AwardResult{
				Outcome:    OutcomeDailyLimit,
				Balance:    acct.Balance,
				DailyLimit: rule.DailyLimit,
			}, nil
		}
	}

	streakMult := s.cat.StreakBonus.Multiplier(acct.Streak)
	multiplier := rule.Multiplier * streakMult
	points := int64(math.Floor(float64(rule.Points) * multiplier))

	rec := core.ActivityRecord{UserID: normalized, Action: action, Delta: points, OccurredAt: now}
	balance, err := s.credit(ctx, normalized, rec)
	if err != nil {
		return AwardResult{}, err
	}
	s.bus.Publish(ctx, core.NewPointsAwarded(normalized, action, points, balance))

	// Streak advance for qualifying (post-type) actions, keyed off the last
	// post before this one.
	if s.isPostAction(action) {
		if adv, newStreak := nextStreak(acct, now, s.loc); adv {
			if err := s.ledger.SetStreak(ctx, normalized, newStreak); err != nil {
				// The award stands; the streak write is re-derived on the next
				// qualifying post or UpdateStreak call.
				slog.WarnContext(ctx, "streak update failed after award",
					"user", normalized, "streak", newStreak, "error", err)
			} else {
				status := StreakMaintained
				if newStreak == 1 {
					status = StreakStarted
				}
				s.bus.Publish(ctx, core.NewStreakUpdated(normalized, newStreak, string(status)))
			}
		}
	}

	// Badge and tier evaluation read the committed balance. Failures here are
	// tolerated: the credited balance stands and badges/tier can be
	// re-evaluated later (grants are idempotent).
	result := AwardResult{
		Outcome:    OutcomeAwarded,
		Points:     points,
		Balance:    balance,
		Multiplier: multiplier,
	}
	if badges, err := s.EvaluateBadges(ctx, normalized, action, balance); err == nil {
		result.NewBadges = badges
		for _, b := range badges {
			result.Balance += b.Bonus
		}
	}
	if tier, err := s.EvaluateTier(ctx, normalized, result.Balance); err == nil {
		result.Tier = &tier
	}
	return result, nil
}

// nextStreak computes the streak value after a post at now, given the
// account state before the post. ok=false means no change.
func nextStreak(acct core.Account, now time.Time, loc *time.Location) (bool, int) {
	if acct.LastPostAt == nil {
		return true, 1
	}
	switch {
	case core.SameDay(*acct.LastPostAt, now, loc):
		if acct.Streak == 0 {
			return true, 1
		}
		return false, acct.Streak
	case core.IsYesterday(*acct.LastPostAt, now, loc):
		return true, acct.Streak + 1
	default:
		return true, 1
	}
}

func (s *Service) isPostAction(action core.ActionType) bool {
	for _, a := range s.cat.PostActions() {
		if a == action {
			return true
		}
	}
	return false
}

// RedeemReward debits the balance for a reward. Insufficient balance is a
// rejected-but-successful call: no mutation, Succeeded=false, and the
// rejection is still recorded for audit.
func (s *Service) RedeemReward(ctx context.Context, user core.UserID, rewardID string, cost int64) (RedeemResult, error) {
	if cost < 0 {
		return RedeemResult{}, errors.New("cost must be >= 0")
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return RedeemResult{}, err
	}
	now := s.now()
	rec := core.ActivityRecord{UserID: normalized, Action: core.ActionRewardRedeem, Delta: -cost, OccurredAt: now}
	balance, err := s.debit(ctx, normalized, rec)
	if errors.Is(err, core.ErrInsufficientBalance) {
		acct, gerr := s.ledger.GetAccount(ctx, normalized)
		if gerr != nil {
			return RedeemResult{}, gerr
		}
		_ = s.ledger.RecordRedemption(ctx, core.RedemptionRecord{
			UserID: normalized, RewardID: rewardID, Cost: cost, RedeemedAt: now, Succeeded: false,
		})
		return RedeemResult{Succeeded: false, Balance: acct.Balance}, nil
	}
	if err != nil {
		return RedeemResult{}, err
	}
	if err := s.ledger.RecordRedemption(ctx, core.RedemptionRecord{
		UserID: normalized, RewardID: rewardID, Cost: cost, RedeemedAt: now, Succeeded: true,
	}); err != nil {
		return RedeemResult{}, fmt.Errorf("record redemption: %w", err)
	}
	s.bus.Publish(ctx, core.NewPointsRedeemed(normalized, rewardID, cost, balance))
	return RedeemResult{Succeeded: true, Spent: cost, Balance: balance}, nil
}

// credit wraps Ledger.CreditPoints with bounded conflict retries.
func (s *Service) credit(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	var balance int64
	var err error
	for attempt := 0; ; attempt++ {
		balance, err = s.ledger.CreditPoints(ctx, id, rec)
		if !errors.Is(err, core.ErrConflict) || attempt >= maxConflictRetries {
			return balance, err
		}
		if serr := sleepJitter(ctx, attempt); serr != nil {
			return 0, serr
		}
	}
}

// debit wraps Ledger.DebitPoints with bounded conflict retries.
func (s *Service) debit(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	var balance int64
	var err error
	for attempt := 0; ; attempt++ {
		balance, err = s.ledger.DebitPoints(ctx, id, rec)
		if !errors.Is(err, core.ErrConflict) || attempt >= maxConflictRetries {
			return balance, err
		}
		if serr := sleepJitter(ctx, attempt); serr != nil {
			return 0, serr
		}
	}
}

func sleepJitter(ctx context.Context, attempt int) error {
	d := retryBaseDelay << attempt
	d += time.Duration(rand.Int63n(int64(retryBaseDelay)))
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
