// Package memory implements the engine.Ledger contract in process memory.
// Atomicity is provided by a per-account mutex, so it honors the same
// no-lost-updates and check-and-decrement guarantees as the durable
// adapters. Intended for tests, demos, and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyaltyledger/core"
)

// Store is a concurrent in-memory Ledger implementation.
type Store struct {
	accounts sync.Map // map[core.UserID]*accountRecord

	mu          sync.Mutex
	badges      map[string]core.BadgeGrant // keyed by BadgeGrant.Key()
	redemptions []core.RedemptionRecord
}

type accountRecord struct {
	mu         sync.Mutex
	acct       core.Account
	activities []core.ActivityRecord
}

func New() *Store {
	return &Store{badges: map[string]core.BadgeGrant{}}
}

func (s *Store) get(id core.UserID) (*accountRecord, bool) {
	v, ok := s.accounts.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*accountRecord), true
}

func (s *Store) CreateAccount(_ context.Context, id core.UserID) (core.Account, error) {
	now := time.Now().UTC()
	rec := &accountRecord{acct: core.Account{ID: id, CreatedAt: now, UpdatedAt: now}}
	if _, loaded := s.accounts.LoadOrStore(id, rec); loaded {
		return core.Account{}, core.ErrAccountExists
	}
	return rec.acct.Clone(), nil
}

func (s *Store) GetAccount(_ context.Context, id core.UserID) (core.Account, error) {
	rec, ok := s.get(id)
	if !ok {
		return core.Account{}, core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.acct.Clone(), nil
}

func (s *Store) CreditPoints(_ context.Context, id core.UserID, activity core.ActivityRecord) (int64, error) {
	rec, ok := s.get(id)
	if !ok {
		return 0, core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, err := core.AddSafe(rec.acct.Balance, activity.Delta)
	if err != nil {
		return 0, err
	}
	rec.acct.Balance = next
	if activity.Action == core.ActionPost {
		t := activity.OccurredAt
		rec.acct.LastPostAt = &t
	}
	rec.acct.UpdatedAt = time.Now().UTC()
	rec.activities = append(rec.activities, activity)
	return next, nil
}

func (s *Store) DebitPoints(_ context.Context, id core.UserID, activity core.ActivityRecord) (int64, error) {
	rec, ok := s.get(id)
	if !ok {
		return 0, core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cost := -activity.Delta
	if rec.acct.Balance < cost {
		return rec.acct.Balance, core.ErrInsufficientBalance
	}
	rec.acct.Balance -= cost
	rec.acct.UpdatedAt = time.Now().UTC()
	rec.activities = append(rec.activities, activity)
	return rec.acct.Balance, nil
}

func (s *Store) CountActivity(_ context.Context, id core.UserID, action core.ActionType, from, to time.Time) (int, error) {
	rec, ok := s.get(id)
	if !ok {
		return 0, core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	count := 0
	for _, a := range rec.activities {
		if a.Action != action || a.Delta < 0 {
			continue
		}
		if !from.IsZero() && a.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !a.OccurredAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) LastActivity(_ context.Context, id core.UserID, action core.ActionType) (*core.ActivityRecord, error) {
	rec, ok := s.get(id)
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := len(rec.activities) - 1; i >= 0; i-- {
		if rec.activities[i].Action == action {
			a := rec.activities[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) GrantBadge(_ context.Context, grant core.BadgeGrant) (bool, error) {
	if _, ok := s.get(grant.UserID); !ok {
		return false, core.ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grant.Key()
	if _, exists := s.badges[key]; exists {
		return false, nil
	}
	s.badges[key] = grant
	return true, nil
}

func (s *Store) Badges(_ context.Context, id core.UserID) ([]core.BadgeGrant, error) {
	if _, ok := s.get(id); !ok {
		return nil, core.ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BadgeGrant
	for _, g := range s.badges {
		if g.UserID == id {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *Store) SetStreak(_ context.Context, id core.UserID, streak int) error {
	rec, ok := s.get(id)
	if !ok {
		return core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.acct.Streak = streak
	rec.acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetTier(_ context.Context, id core.UserID, tier core.TierID) error {
	rec, ok := s.get(id)
	if !ok {
		return core.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.acct.Tier = tier
	rec.acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RecordRedemption(_ context.Context, redemption core.RedemptionRecord) error {
	if _, ok := s.get(redemption.UserID); !ok {
		return core.ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions = append(s.redemptions, redemption)
	return nil
}

func (s *Store) Accounts(_ context.Context) ([]core.Account, error) {
	var out []core.Account
	s.accounts.Range(func(_, v any) bool {
		rec := v.(*accountRecord)
		rec.mu.Lock()
		out = append(out, rec.acct.Clone())
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PostCounts(_ context.Context, actions []core.ActionType, from, to time.Time) (map[core.UserID]int, error) {
	want := make(map[core.ActionType]struct{}, len(actions))
	for _, a := range actions {
		want[a] = struct{}{}
	}
	counts := map[core.UserID]int{}
	s.accounts.Range(func(_, v any) bool {
		rec := v.(*accountRecord)
		rec.mu.Lock()
		for _, a := range rec.activities {
			if _, ok := want[a.Action]; !ok || a.Delta < 0 {
				continue
			}
			if !from.IsZero() && a.OccurredAt.Before(from) {
				continue
			}
			if !to.IsZero() && !a.OccurredAt.Before(to) {
				continue
			}
			counts[rec.acct.ID]++
		}
		rec.mu.Unlock()
		return true
	})
	return counts, nil
}

// Redemptions returns the audit trail of redemption attempts for a user.
func (s *Store) Redemptions(id core.UserID) []core.RedemptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RedemptionRecord
	for _, r := range s.redemptions {
		if r.UserID == id {
			out = append(out, r)
		}
	}
	return out
}
