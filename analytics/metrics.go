// Package analytics aggregates engagement KPIs from the ledger event stream:
// active users, points issued and spent, badge grants, tier upgrades, and
// redemption outcomes. Counters live in memory and reset with the process;
// durable history belongs to the ledger itself.
package analytics

import (
	"context"
	"sync"
	"time"

	"loyaltyledger/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := e.Time.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// EngagementMetrics aggregates ledger activity across the event stream.
type EngagementMetrics struct {
	mu sync.RWMutex

	activeByDay map[string]map[core.UserID]struct{}

	pointsAwardedByDay  map[string]int64
	pointsAwardedByAct  map[core.ActionType]int64
	pointsSpentByDay    map[string]int64
	pointsSpentByReward map[string]int64

	badgesByDay   map[string]int64
	badgeHolders  map[core.Badge]map[core.UserID]struct{}
	tierUpgrades  map[core.TierID]int64
	streakUpdates int64
}

func NewEngagementMetrics() *EngagementMetrics {
	return &EngagementMetrics{
		activeByDay:         map[string]map[core.UserID]struct{}{},
		pointsAwardedByDay:  map[string]int64{},
		pointsAwardedByAct:  map[core.ActionType]int64{},
		pointsSpentByDay:    map[string]int64{},
		pointsSpentByReward: map[string]int64{},
		badgesByDay:         map[string]int64{},
		badgeHolders:        map[core.Badge]map[core.UserID]struct{}{},
		tierUpgrades:        map[core.TierID]int64{},
	}
}

func (m *EngagementMetrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := e.Time.UTC().Format("2006-01-02")

	users := m.activeByDay[day]
	if users == nil {
		users = map[core.UserID]struct{}{}
		m.activeByDay[day] = users
	}
	users[e.UserID] = struct{}{}

	switch e.Type {
	case core.EventPointsAwarded:
		if e.Delta > 0 {
			m.pointsAwardedByDay[day] += e.Delta
			m.pointsAwardedByAct[e.Action] += e.Delta
		}
	case core.EventPointsRedeemed:
		spent := -e.Delta
		if spent > 0 {
			m.pointsSpentByDay[day] += spent
			if reward, ok := e.Metadata["reward_id"].(string); ok {
				m.pointsSpentByReward[reward] += spent
			}
		}
	case core.EventBadgeGranted:
		m.badgesByDay[day]++
		holders := m.badgeHolders[e.Badge]
		if holders == nil {
			holders = map[core.UserID]struct{}{}
			m.badgeHolders[e.Badge] = holders
		}
		holders[e.UserID] = struct{}{}
	case core.EventTierUpgraded:
		m.tierUpgrades[e.Tier]++
	case core.EventStreakUpdated:
		m.streakUpdates++
	}
}

// ActiveUsers returns the distinct-user count for a day key ("2006-01-02").
func (m *EngagementMetrics) ActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeByDay[day])
}

// PointsAwarded returns points issued on a given day.
func (m *EngagementMetrics) PointsAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsAwardedByDay[day]
}

// PointsAwardedByAction returns lifetime points issued for one action type.
func (m *EngagementMetrics) PointsAwardedByAction(action core.ActionType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsAwardedByAct[action]
}

// PointsSpent returns points burned through redemptions on a given day.
func (m *EngagementMetrics) PointsSpent(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsSpentByDay[day]
}

// BadgeHolders returns the distinct holder count for a badge.
func (m *EngagementMetrics) BadgeHolders(badge core.Badge) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.badgeHolders[badge])
}

// TierUpgrades returns how many accounts reached the given tier.
func (m *EngagementMetrics) TierUpgrades(tier core.TierID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tierUpgrades[tier]
}

// Snapshot is a point-in-time KPI report.
type Snapshot struct {
	GeneratedAt   time.Time                  `json:"generated_at"`
	Day           string                     `json:"day"`
	ActiveUsers   int                        `json:"active_users"`
	PointsAwarded int64                      `json:"points_awarded"`
	PointsSpent   int64                      `json:"points_spent"`
	BadgesGranted int64                      `json:"badges_granted"`
	ByAction      map[core.ActionType]int64  `json:"by_action,omitempty"`
	ByReward      map[string]int64           `json:"by_reward,omitempty"`
	TierUpgrades  map[core.TierID]int64      `json:"tier_upgrades,omitempty"`
}

// SnapshotFor builds the KPI report for one calendar day.
func (m *EngagementMetrics) SnapshotFor(day string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byAction := make(map[core.ActionType]int64, len(m.pointsAwardedByAct))
	for k, v := range m.pointsAwardedByAct {
		byAction[k] = v
	}
	byReward := make(map[string]int64, len(m.pointsSpentByReward))
	for k, v := range m.pointsSpentByReward {
		byReward[k] = v
	}
	upgrades := make(map[core.TierID]int64, len(m.tierUpgrades))
	for k, v := range m.tierUpgrades {
		upgrades[k] = v
	}

	return Snapshot{
		GeneratedAt:   time.Now().UTC(),
		Day:           day,
		ActiveUsers:   len(m.activeByDay[day]),
		PointsAwarded: m.pointsAwardedByDay[day],
		PointsSpent:   m.pointsSpentByDay[day],
		BadgesGranted: m.badgesByDay[day],
		ByAction:      byAction,
		ByReward:      byReward,
		TierUpgrades:  upgrades,
	}
}

// Subscriber is the minimal event-bus surface the hooks attach to.
type Subscriber interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

var allEventTypes = []core.EventType{
	core.EventPointsAwarded,
	core.EventPointsRedeemed,
	core.EventBadgeGranted,
	core.EventTierUpgraded,
	core.EventStreakUpdated,
}

// Attach subscribes a hook to every ledger event type and returns a single
// unsubscribe function.
func Attach(bus Subscriber, hook Hook) func() {
	unsubs := make([]func(), 0, len(allEventTypes))
	for _, typ := range allEventTypes {
		unsubs = append(unsubs, bus.Subscribe(typ, func(_ context.Context, e core.Event) {
			hook.OnEvent(e)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
