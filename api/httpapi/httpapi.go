package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	wsadapter "loyaltyledger/adapters/websocket"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/leaderboard"
	"loyaltyledger/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// LeaderboardLimit caps the size of leaderboard responses (default 100).
	LeaderboardLimit int
}

type createAccountRequest struct {
	UserID string `json:"user_id"`
}

type awardRequest struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
	RefID  string `json:"ref_id,omitempty"`
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
	Cost     int64  `json:"cost"`
}

type profileResponse struct {
	Account core.Account      `json:"account"`
	Badges  []core.BadgeGrant `json:"badges"`
}

// NewMux builds an http.Handler exposing the loyalty ledger REST API and
// WebSocket event stream.
// Routes:
//   - POST {prefix}/accounts
//   - GET  {prefix}/users/{id}
//   - POST {prefix}/users/{id}/award
//   - POST {prefix}/users/{id}/redeem
//   - POST {prefix}/users/{id}/streak
//   - GET  {prefix}/leaderboard?metric=points&limit=10
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(svc *engine.Service, board *leaderboard.Builder, hub *realtime.Hub, opts Options) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	// Account provisioning
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/accounts"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
			return
		}
		user, err := core.NormalizeUserID(core.UserID(req.UserID))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		acct, err := svc.CreateAccount(r.Context(), user)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, acct)
	})

	// Leaderboard
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/leaderboard"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		metric := leaderboard.MetricPoints
		if raw := r.URL.Query().Get("metric"); raw != "" {
			m, err := leaderboard.ParseMetric(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_metric", err.Error(), nil)
				return
			}
			metric = m
		}
		maxLimit := opts.LeaderboardLimit
		if maxLimit <= 0 {
			maxLimit = 100
		}
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		entries, err := board.Build(r.Context(), metric, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"metric": metric, "entries": entries})
	})

	// Users API
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, opts.PathPrefix)
		if path == "" || path[0] != '/' {
			path = "/" + path
		}
		parts := split(path, '/')
		if len(parts) < 2 {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		user, err := core.NormalizeUserID(core.UserID(parts[1]))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		switch {
		case r.Method == http.MethodGet && len(parts) == 2:
			handleProfile(w, r, svc, user)
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "award":
			handleAward(w, r, svc, user)
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "redeem":
			handleRedeem(w, r, svc, user)
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "streak":
			handleStreak(w, r, svc, user)
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

func handleProfile(w http.ResponseWriter, r *http.Request, svc *engine.Service, user core.UserID) {
	acct, err := svc.GetAccount(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	badges, err := svc.Badges(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, profileResponse{Account: acct, Badges: badges})
}

func handleAward(w http.ResponseWriter, r *http.Request, svc *engine.Service, user core.UserID) {
	var req awardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "invalid_action", "action is required", nil)
		return
	}
	result, err := svc.AwardPoints(r.Context(), user, core.ActionType(req.Action), engine.AwardMeta{
		Source: req.Source,
		RefID:  req.RefID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// no_rule and daily_limit are ordinary zero-point results, not errors
	writeJSON(w, result)
}

func handleRedeem(w http.ResponseWriter, r *http.Request, svc *engine.Service, user core.UserID) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
		return
	}
	if req.RewardID == "" {
		writeError(w, http.StatusBadRequest, "invalid_reward", "reward_id is required", nil)
		return
	}
	if req.Cost <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_cost", "cost must be a positive integer", nil)
		return
	}
	result, err := svc.RedeemReward(r.Context(), user, req.RewardID, req.Cost)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// a rejected redemption is reported in the body, not as an HTTP error
	writeJSON(w, result)
}

func handleStreak(w http.ResponseWriter, r *http.Request, svc *engine.Service, user core.UserID) {
	status, err := svc.UpdateStreak(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status)
}

// Helpers

// healthCheck verifies the storage path end to end with a probe read.
func healthCheck(w http.ResponseWriter, r *http.Request, svc *engine.Service) {
	_, err := svc.GetAccount(r.Context(), core.UserID("healthcheck_probe"))
	if err != nil && !errors.Is(err, core.ErrAccountNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]any{
			"status": "unhealthy",
			"checks": map[string]any{"storage": "failed"},
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	})
}

// writeServiceError maps ledger errors onto the HTTP error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error(), nil)
	case errors.Is(err, core.ErrAccountExists):
		writeError(w, http.StatusConflict, "account_exists", err.Error(), nil)
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "conflict", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}
