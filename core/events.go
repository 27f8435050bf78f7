package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventPointsAwarded  EventType = "points_awarded"
	EventPointsRedeemed EventType = "points_redeemed"
	EventBadgeGranted   EventType = "badge_granted"
	EventTierUpgraded   EventType = "tier_upgraded"
	EventStreakUpdated  EventType = "streak_updated"
)

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	Action   ActionType     `json:"action,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Balance  int64          `json:"balance,omitempty"`
	Badge    Badge          `json:"badge,omitempty"`
	Bonus    int64          `json:"bonus,omitempty"`
	Tier     TierID         `json:"tier,omitempty"`
	PrevTier TierID         `json:"prev_tier,omitempty"`
	Streak   int            `json:"streak,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewPointsAwarded(user UserID, action ActionType, delta int64, balance int64) Event {
	return Event{Type: EventPointsAwarded, Time: time.Now().UTC(), UserID: user, Action: action, Delta: delta, Balance: balance}
}

func NewPointsRedeemed(user UserID, rewardID string, cost int64, balance int64) Event {
	return Event{
		Type: EventPointsRedeemed, Time: time.Now().UTC(), UserID: user,
		Delta: -cost, Balance: balance,
		Metadata: map[string]any{"reward_id": rewardID},
	}
}

func NewBadgeGranted(user UserID, badge Badge, bonus int64) Event {
	return Event{Type: EventBadgeGranted, Time: time.Now().UTC(), UserID: user, Badge: badge, Bonus: bonus}
}

func NewTierUpgraded(user UserID, prev TierID, next TierID, balance int64) Event {
	return Event{Type: EventTierUpgraded, Time: time.Now().UTC(), UserID: user, PrevTier: prev, Tier: next, Balance: balance}
}

func NewStreakUpdated(user UserID, streak int, status string) Event {
	return Event{
		Type: EventStreakUpdated, Time: time.Now().UTC(), UserID: user, Streak: streak,
		Metadata: map[string]any{"status": status},
	}
}
