// Package redis implements the engine.Ledger contract on Redis. All
// compound mutations (credit+append, check-and-debit, badge insert) run as
// Lua scripts so each is a single atomic server-side operation, which is
// what lets multiple engine instances share one Redis without locks.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"loyaltyledger/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Ledger using Redis as the backend.
// Data layout:
//   - accounts                      -> set of account ids
//   - acct:{id}                     -> hash {balance, streak, tier, last_post_at, created_at, updated_at}
//   - acct:{id}:log                 -> list of activity record JSON (audit trail)
//   - acct:{id}:count:{action}      -> lifetime credit count per action
//   - acct:{id}:count:{action}:{day}-> per-day credit count (daily caps)
//   - acct:{id}:last:{action}       -> JSON of the latest record per action
//   - acct:{id}:badges              -> set of badge grant JSON
//   - badge:{user}|{badge}[|{day}]  -> uniqueness marker per grant key
//   - acct:{id}:redemptions         -> list of redemption record JSON
type Store struct {
	client *redis.Client
	loc    *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the reference location used to key per-day activity
// counters. It must match the engine's calendar-day location, or windowed
// counts (and with them daily caps) land on the wrong day keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New creates a Redis-backed ledger with the provided configuration.
func New(config Config, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s := &Store{client: client, loc: time.UTC}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing).
func NewWithClient(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, loc: time.UTC}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func acctKey(id core.UserID) string { return "acct:" + string(id) }
func logKey(id core.UserID) string  { return acctKey(id) + ":log" }
func countKey(id core.UserID, action core.ActionType) string {
	return acctKey(id) + ":count:" + string(action)
}
func dayCountKey(id core.UserID, action core.ActionType, day string) string {
	return countKey(id, action) + ":" + day
}
func lastKey(id core.UserID, action core.ActionType) string {
	return acctKey(id) + ":last:" + string(action)
}
func badgesKey(id core.UserID) string      { return acctKey(id) + ":badges" }
func badgeMarkerKey(key string) string     { return "badge:" + key }
func redemptionsKey(id core.UserID) string { return acctKey(id) + ":redemptions" }

const accountsKey = "accounts"

// createScript provisions the account hash only if it does not exist yet.
var createScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'balance', 0, 'streak', 0, 'tier', '', 'created_at', ARGV[1], 'updated_at', ARGV[1])
	redis.call('SADD', KEYS[2], ARGV[2])
	return 1
`)

// creditScript: atomic balance increment + audit append + counters, and the
// last-post stamp when the action qualifies. KEYS: acct, log, count,
// daycount, last. ARGV: delta, record JSON, now, is_post, occurred_at.
var creditScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('account not found')
	end
	local balance = redis.call('HINCRBY', KEYS[1], 'balance', ARGV[1])
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
	if ARGV[4] == '1' then
		redis.call('HSET', KEYS[1], 'last_post_at', ARGV[5])
	end
	redis.call('RPUSH', KEYS[2], ARGV[2])
	if tonumber(ARGV[1]) >= 0 then
		redis.call('INCR', KEYS[3])
		redis.call('INCR', KEYS[4])
	end
	redis.call('SET', KEYS[5], ARGV[2])
	return balance
`)

// debitScript: check-and-decrement in one step. Returns -1 when the balance
// is insufficient; no partial write happens. KEYS: acct, log, last.
// ARGV: cost, record JSON, now.
var debitScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('account not found')
	end
	local balance = tonumber(redis.call('HGET', KEYS[1], 'balance'))
	local cost = tonumber(ARGV[1])
	if balance < cost then
		return -1
	end
	balance = redis.call('HINCRBY', KEYS[1], 'balance', -cost)
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
	redis.call('RPUSH', KEYS[2], ARGV[2])
	redis.call('SET', KEYS[3], ARGV[2])
	return balance
`)

// grantScript: SETNX on the uniqueness marker decides the winner; only the
// winner's grant lands in the listing set. KEYS: marker, badges. ARGV: json.
var grantScript = redis.NewScript(`
	if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	redis.call('SADD', KEYS[2], ARGV[1])
	return 1
`)

func (s *Store) CreateAccount(ctx context.Context, id core.UserID) (core.Account, error) {
	now := time.Now().UTC()
	created, err := createScript.Run(ctx, s.client,
		[]string{acctKey(id), accountsKey},
		now.Format(time.RFC3339Nano), string(id),
	).Int()
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	if created == 0 {
		return core.Account{}, core.ErrAccountExists
	}
	return core.Account{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetAccount(ctx context.Context, id core.UserID) (core.Account, error) {
	fields, err := s.client.HGetAll(ctx, acctKey(id)).Result()
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if len(fields) == 0 {
		return core.Account{}, core.ErrAccountNotFound
	}
	return parseAccount(id, fields)
}

func parseAccount(id core.UserID, fields map[string]string) (core.Account, error) {
	acct := core.Account{ID: id, Tier: core.TierID(fields["tier"])}
	if _, err := fmt.Sscanf(fields["balance"], "%d", &acct.Balance); err != nil {
		return core.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	if _, err := fmt.Sscanf(fields["streak"], "%d", &acct.Streak); err != nil {
		return core.Account{}, fmt.Errorf("parse streak: %w", err)
	}
	var err error
	if acct.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return core.Account{}, fmt.Errorf("parse created_at: %w", err)
	}
	if acct.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return core.Account{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if raw := fields["last_post_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.Account{}, fmt.Errorf("parse last_post_at: %w", err)
		}
		acct.LastPostAt = &t
	}
	return acct, nil
}

func (s *Store) CreditPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	isPost := "0"
	if rec.Action == core.ActionPost {
		isPost = "1"
	}
	day := core.DayKey(rec.OccurredAt, s.loc)
	balance, err := creditScript.Run(ctx, s.client,
		[]string{acctKey(id), logKey(id), countKey(id, rec.Action), dayCountKey(id, rec.Action, day), lastKey(id, rec.Action)},
		rec.Delta, payload, time.Now().UTC().Format(time.RFC3339Nano), isPost, rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		if isNotFoundReply(err) {
			return 0, core.ErrAccountNotFound
		}
		return 0, fmt.Errorf("credit points: %w", err)
	}
	return balance, nil
}

func (s *Store) DebitPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	balance, err := debitScript.Run(ctx, s.client,
		[]string{acctKey(id), logKey(id), lastKey(id, rec.Action)},
		-rec.Delta, payload, time.Now().UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		if isNotFoundReply(err) {
			return 0, core.ErrAccountNotFound
		}
		return 0, fmt.Errorf("debit points: %w", err)
	}
	if balance == -1 {
		cur, err := s.client.HGet(ctx, acctKey(id), "balance").Int64()
		if err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		return cur, core.ErrInsufficientBalance
	}
	return balance, nil
}

func (s *Store) CountActivity(ctx context.Context, id core.UserID, action core.ActionType, from, to time.Time) (int, error) {
	if err := s.ensureAccount(ctx, id); err != nil {
		return 0, err
	}
	if from.IsZero() && to.IsZero() {
		n, err := s.client.Get(ctx, countKey(id, action)).Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, nil
			}
			return 0, fmt.Errorf("lifetime count: %w", err)
		}
		return n, nil
	}
	// Windowed counting walks the per-day counters covering [from, to).
	total := 0
	for day := from.In(s.loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		n, err := s.client.Get(ctx, dayCountKey(id, action, core.DayKey(day, s.loc))).Int()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("day count: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) LastActivity(ctx context.Context, id core.UserID, action core.ActionType) (*core.ActivityRecord, error) {
	if err := s.ensureAccount(ctx, id); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, lastKey(id, action)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("last activity: %w", err)
	}
	var rec core.ActivityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode last activity: %w", err)
	}
	return &rec, nil
}

func (s *Store) GrantBadge(ctx context.Context, grant core.BadgeGrant) (bool, error) {
	if err := s.ensureAccount(ctx, grant.UserID); err != nil {
		return false, err
	}
	payload, err := json.Marshal(grant)
	if err != nil {
		return false, err
	}
	won, err := grantScript.Run(ctx, s.client,
		[]string{badgeMarkerKey(grant.Key()), badgesKey(grant.UserID)},
		payload,
	).Int()
	if err != nil {
		return false, fmt.Errorf("grant badge: %w", err)
	}
	return won == 1, nil
}

func (s *Store) Badges(ctx context.Context, id core.UserID) ([]core.BadgeGrant, error) {
	if err := s.ensureAccount(ctx, id); err != nil {
		return nil, err
	}
	members, err := s.client.SMembers(ctx, badgesKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]core.BadgeGrant, 0, len(members))
	for _, m := range members {
		var g core.BadgeGrant
		if err := json.Unmarshal([]byte(m), &g); err != nil {
			return nil, fmt.Errorf("decode badge grant: %w", err)
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *Store) SetStreak(ctx context.Context, id core.UserID, streak int) error {
	return s.setField(ctx, id, "streak", streak)
}

func (s *Store) SetTier(ctx context.Context, id core.UserID, tier core.TierID) error {
	return s.setField(ctx, id, "tier", string(tier))
}

var setFieldScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('account not found')
	end
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], 'updated_at', ARGV[3])
	return 1
`)

func (s *Store) setField(ctx context.Context, id core.UserID, field string, value any) error {
	err := setFieldScript.Run(ctx, s.client,
		[]string{acctKey(id)},
		field, value, time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		if isNotFoundReply(err) {
			return core.ErrAccountNotFound
		}
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

func (s *Store) RecordRedemption(ctx context.Context, rec core.RedemptionRecord) error {
	if err := s.ensureAccount(ctx, rec.UserID); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, redemptionsKey(rec.UserID), payload).Err(); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}

func (s *Store) Accounts(ctx context.Context) ([]core.Account, error) {
	ids, err := s.client.SMembers(ctx, accountsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	sort.Strings(ids)
	out := make([]core.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.GetAccount(ctx, core.UserID(id))
		if err != nil {
			if errors.Is(err, core.ErrAccountNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *Store) PostCounts(ctx context.Context, actions []core.ActionType, from, to time.Time) (map[core.UserID]int, error) {
	ids, err := s.client.SMembers(ctx, accountsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	counts := make(map[core.UserID]int, len(ids))
	for _, raw := range ids {
		id := core.UserID(raw)
		for _, action := range actions {
			n, err := s.CountActivity(ctx, id, action, from, to)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				counts[id] += n
			}
		}
	}
	return counts, nil
}

func (s *Store) ensureAccount(ctx context.Context, id core.UserID) error {
	exists, err := s.client.Exists(ctx, acctKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if exists == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

func isNotFoundReply(err error) bool {
	return err != nil && strings.Contains(err.Error(), "account not found")
}
