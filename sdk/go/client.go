// Package sdk provides typed Go access to the loyalty ledger HTTP and
// WebSocket API without importing the engine packages, so third-party
// services can depend on it in isolation.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the ledger HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// CreateAccount provisions a ledger account.
func (c *Client) CreateAccount(ctx context.Context, userID string) (Account, error) {
	if strings.TrimSpace(userID) == "" {
		return Account{}, ErrEmptyUserID
	}
	var acct Account
	err := c.postJSON(ctx, c.baseURL+"/accounts", map[string]string{"user_id": userID}, &acct)
	return acct, err
}

// GetProfile fetches the account snapshot plus held badges.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	var profile Profile
	err := c.getJSON(ctx, u, &profile)
	return profile, err
}

// Award runs one point-granting transaction for an action.
func (c *Client) Award(ctx context.Context, userID, action, source, refID string) (AwardResult, error) {
	if strings.TrimSpace(userID) == "" {
		return AwardResult{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/award", c.baseURL, url.PathEscape(userID))
	body := map[string]string{"action": action}
	if source != "" {
		body["source"] = source
	}
	if refID != "" {
		body["ref_id"] = refID
	}
	var result AwardResult
	err := c.postJSON(ctx, u, body, &result)
	return result, err
}

// Redeem attempts to spend points on a reward. A rejected redemption is
// reported through RedeemResult.Succeeded, not an error.
func (c *Client) Redeem(ctx context.Context, userID, rewardID string, cost int64) (RedeemResult, error) {
	if strings.TrimSpace(userID) == "" {
		return RedeemResult{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/redeem", c.baseURL, url.PathEscape(userID))
	var result RedeemResult
	err := c.postJSON(ctx, u, map[string]any{"reward_id": rewardID, "cost": cost}, &result)
	return result, err
}

// UpdateStreak classifies and persists the user's daily streak state.
func (c *Client) UpdateStreak(ctx context.Context, userID string) (StreakStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return StreakStatus{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/streak", c.baseURL, url.PathEscape(userID))
	var status StreakStatus
	err := c.postJSON(ctx, u, nil, &status)
	return status, err
}

// Leaderboard fetches the top accounts for a metric ("points", "streak", "posts").
func (c *Client) Leaderboard(ctx context.Context, metric string, limit int) ([]LeaderboardEntry, error) {
	u, err := url.Parse(c.baseURL + "/leaderboard")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if metric != "" {
		q.Set("metric", metric)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var resp struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, u.String(), &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.getJSON(ctx, c.baseURL+"/healthz", &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	wsURL := c.wsURL
	if len(types) > 0 {
		wsURL += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) postJSON(ctx context.Context, u string, body any, target any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
