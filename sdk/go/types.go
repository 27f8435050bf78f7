package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Account mirrors the public JSON surface of a ledger account.
type Account struct {
	ID         string     `json:"id"`
	Balance    int64      `json:"balance"`
	Streak     int        `json:"streak"`
	Tier       string     `json:"tier"`
	LastPostAt *time.Time `json:"last_post_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BadgeGrant mirrors one held badge.
type BadgeGrant struct {
	UserID    string    `json:"user_id"`
	Badge     string    `json:"badge"`
	Day       string    `json:"day,omitempty"`
	Bonus     int64     `json:"bonus"`
	GrantedAt time.Time `json:"granted_at"`
}

// Profile is the GET /users/{id} response.
type Profile struct {
	Account Account      `json:"account"`
	Badges  []BadgeGrant `json:"badges"`
}

// TierStatus reports a tier evaluation.
type TierStatus struct {
	Upgraded     bool   `json:"upgraded"`
	Previous     string `json:"previous,omitempty"`
	Current      string `json:"current,omitempty"`
	PointsToNext int64  `json:"points_to_next,omitempty"`
}

// AwardResult is the POST /users/{id}/award response.
type AwardResult struct {
	Outcome    string       `json:"outcome"`
	Points     int64        `json:"points"`
	Balance    int64        `json:"balance"`
	Multiplier float64      `json:"multiplier,omitempty"`
	DailyLimit int          `json:"daily_limit,omitempty"`
	NewBadges  []BadgeGrant `json:"new_badges,omitempty"`
	Tier       *TierStatus  `json:"tier,omitempty"`
}

// RedeemResult is the POST /users/{id}/redeem response.
type RedeemResult struct {
	Succeeded bool  `json:"succeeded"`
	Spent     int64 `json:"spent"`
	Balance   int64 `json:"balance"`
}

// StreakStatus is the POST /users/{id}/streak response.
type StreakStatus struct {
	Streak          int     `json:"streak"`
	State           string  `json:"state"`
	BonusMultiplier float64 `json:"bonus_multiplier"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Score  int64  `json:"score"`
}

// Event mirrors the WebSocket event frame.
type Event struct {
	Type     string         `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   string         `json:"user_id"`
	Action   string         `json:"action,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Balance  int64          `json:"balance,omitempty"`
	Badge    string         `json:"badge,omitempty"`
	Bonus    int64          `json:"bonus,omitempty"`
	Tier     string         `json:"tier,omitempty"`
	Streak   int            `json:"streak,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the server's structured error envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unknown"
			apiErr.Message = string(body)
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
