// Package sqlx implements the engine.Ledger contract on a SQL database via
// jmoiron/sqlx. Balance mutations use single-statement arithmetic updates
// (never read-then-write), the debit carries its sufficiency check in the
// WHERE clause, and badge uniqueness rides on a database unique constraint,
// so the guarantees hold across any number of engine instances.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// database drivers registered for Config-based construction
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"loyaltyledger/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements engine.Ledger over a SQL database.
//
// Schema (see EnsureSchema):
//   - accounts(id, balance, streak, tier, last_post_at, created_at, updated_at)
//   - activities(user_id, action, delta, occurred_at)
//   - badge_grants(user_id, badge, day, bonus, granted_at) UNIQUE (user_id, badge, day)
//   - redemptions(user_id, reward_id, cost, redeemed_at, succeeded)
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a database connection from configuration.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the ledger tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	serial := "BIGSERIAL PRIMARY KEY"
	if s.driver == DriverMySQL {
		serial = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			streak INT NOT NULL DEFAULT 0,
			tier VARCHAR(64) NOT NULL DEFAULT '',
			last_post_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS activities (
			id %s,
			user_id VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			delta BIGINT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_activities_user_action ON activities (user_id, action, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS badge_grants (
			user_id VARCHAR(64) NOT NULL,
			badge VARCHAR(128) NOT NULL,
			day VARCHAR(10) NOT NULL DEFAULT '',
			bonus BIGINT NOT NULL DEFAULT 0,
			granted_at TIMESTAMP NOT NULL,
			CONSTRAINT uq_badge_grants UNIQUE (user_id, badge, day)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS redemptions (
			id %s,
			user_id VARCHAR(64) NOT NULL,
			reward_id VARCHAR(128) NOT NULL,
			cost BIGINT NOT NULL,
			redeemed_at TIMESTAMP NOT NULL,
			succeeded BOOLEAN NOT NULL
		)`, serial),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type accountRow struct {
	ID         string       `db:"id"`
	Balance    int64        `db:"balance"`
	Streak     int          `db:"streak"`
	Tier       string       `db:"tier"`
	LastPostAt sql.NullTime `db:"last_post_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

func (r accountRow) toAccount() core.Account {
	acct := core.Account{
		ID:        core.UserID(r.ID),
		Balance:   r.Balance,
		Streak:    r.Streak,
		Tier:      core.TierID(r.Tier),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastPostAt.Valid {
		t := r.LastPostAt.Time
		acct.LastPostAt = &t
	}
	return acct
}

func (s *Store) CreateAccount(ctx context.Context, id core.UserID) (core.Account, error) {
	now := time.Now().UTC()
	q := `INSERT INTO accounts (id, balance, streak, tier, created_at, updated_at) VALUES (?, 0, 0, '', ?, ?) ON CONFLICT (id) DO NOTHING`
	if s.driver == DriverMySQL {
		q = `INSERT IGNORE INTO accounts (id, balance, streak, tier, created_at, updated_at) VALUES (?, 0, 0, '', ?, ?)`
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), string(id), now, now)
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Account{}, err
	}
	if n == 0 {
		return core.Account{}, core.ErrAccountExists
	}
	return core.Account{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetAccount(ctx context.Context, id core.UserID) (core.Account, error) {
	var row accountRow
	q := s.db.Rebind(`SELECT id, balance, streak, tier, last_post_at, created_at, updated_at FROM accounts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, core.ErrAccountNotFound
		}
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return row.toAccount(), nil
}

func (s *Store) CreditPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var res sql.Result
	if rec.Action == core.ActionPost {
		q := tx.Rebind(`UPDATE accounts SET balance = balance + ?, last_post_at = ?, updated_at = ? WHERE id = ?`)
		res, err = tx.ExecContext(ctx, q, rec.Delta, rec.OccurredAt.UTC(), now, string(id))
	} else {
		q := tx.Rebind(`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`)
		res, err = tx.ExecContext(ctx, q, rec.Delta, now, string(id))
	}
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, core.ErrAccountNotFound
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, tx.Rebind(`SELECT balance FROM accounts WHERE id = ?`), string(id)); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := s.appendActivity(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) DebitPoints(ctx context.Context, id core.UserID, rec core.ActivityRecord) (int64, error) {
	cost := -rec.Delta
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Sufficiency check lives in the WHERE clause: zero affected rows means
	// either a missing account or an insufficient balance, never a partial
	// write.
	q := tx.Rebind(`UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?`)
	res, err := tx.ExecContext(ctx, q, cost, time.Now().UTC(), string(id), cost)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var balance int64
		err := tx.GetContext(ctx, &balance, tx.Rebind(`SELECT balance FROM accounts WHERE id = ?`), string(id))
		if errors.Is(err, sql.ErrNoRows) {
			return 0, core.ErrAccountNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		return balance, core.ErrInsufficientBalance
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, tx.Rebind(`SELECT balance FROM accounts WHERE id = ?`), string(id)); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := s.appendActivity(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) appendActivity(ctx context.Context, tx *sqlx.Tx, rec core.ActivityRecord) error {
	q := tx.Rebind(`INSERT INTO activities (user_id, action, delta, occurred_at) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, q, string(rec.UserID), string(rec.Action), rec.Delta, rec.OccurredAt.UTC()); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *Store) CountActivity(ctx context.Context, id core.UserID, action core.ActionType, from, to time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM activities WHERE user_id = ? AND action = ? AND delta >= 0`
	args := []any{string(id), string(action)}
	if !from.IsZero() {
		q += ` AND occurred_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		q += ` AND occurred_at < ?`
		args = append(args, to.UTC())
	}
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return count, nil
}

func (s *Store) LastActivity(ctx context.Context, id core.UserID, action core.ActionType) (*core.ActivityRecord, error) {
	var row struct {
		UserID     string    `db:"user_id"`
		Action     string    `db:"action"`
		Delta      int64     `db:"delta"`
		OccurredAt time.Time `db:"occurred_at"`
	}
	q := s.db.Rebind(`SELECT user_id, action, delta, occurred_at FROM activities WHERE user_id = ? AND action = ? ORDER BY occurred_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, string(id), string(action)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last activity: %w", err)
	}
	return &core.ActivityRecord{
		UserID:     core.UserID(row.UserID),
		Action:     core.ActionType(row.Action),
		Delta:      row.Delta,
		OccurredAt: row.OccurredAt,
	}, nil
}

func (s *Store) GrantBadge(ctx context.Context, grant core.BadgeGrant) (bool, error) {
	q := `INSERT INTO badge_grants (user_id, badge, day, bonus, granted_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (user_id, badge, day) DO NOTHING`
	if s.driver == DriverMySQL {
		q = `INSERT IGNORE INTO badge_grants (user_id, badge, day, bonus, granted_at) VALUES (?, ?, ?, ?, ?)`
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		string(grant.UserID), string(grant.Badge), grant.Day, grant.Bonus, grant.GrantedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("grant badge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Badges(ctx context.Context, id core.UserID) ([]core.BadgeGrant, error) {
	var rows []struct {
		UserID    string    `db:"user_id"`
		Badge     string    `db:"badge"`
		Day       string    `db:"day"`
		Bonus     int64     `db:"bonus"`
		GrantedAt time.Time `db:"granted_at"`
	}
	q := s.db.Rebind(`SELECT user_id, badge, day, bonus, granted_at FROM badge_grants WHERE user_id = ? ORDER BY granted_at`)
	if err := s.db.SelectContext(ctx, &rows, q, string(id)); err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]core.BadgeGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.BadgeGrant{
			UserID:    core.UserID(r.UserID),
			Badge:     core.Badge(r.Badge),
			Day:       r.Day,
			Bonus:     r.Bonus,
			GrantedAt: r.GrantedAt,
		})
	}
	return out, nil
}

func (s *Store) SetStreak(ctx context.Context, id core.UserID, streak int) error {
	return s.setColumn(ctx, id, "streak", streak)
}

func (s *Store) SetTier(ctx context.Context, id core.UserID, tier core.TierID) error {
	return s.setColumn(ctx, id, "tier", string(tier))
}

func (s *Store) setColumn(ctx context.Context, id core.UserID, column string, value any) error {
	q := s.db.Rebind(fmt.Sprintf(`UPDATE accounts SET %s = ?, updated_at = ? WHERE id = ?`, column))
	res, err := s.db.ExecContext(ctx, q, value, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero affected rows for no-op updates; distinguish
		// that from a missing account before failing.
		var exists bool
		if err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = ?)`), string(id)); err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return core.ErrAccountNotFound
		}
	}
	return nil
}

func (s *Store) RecordRedemption(ctx context.Context, rec core.RedemptionRecord) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = ?)`), string(rec.UserID)); err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return core.ErrAccountNotFound
	}
	q := s.db.Rebind(`INSERT INTO redemptions (user_id, reward_id, cost, redeemed_at, succeeded) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		string(rec.UserID), rec.RewardID, rec.Cost, rec.RedeemedAt.UTC(), rec.Succeeded); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}

func (s *Store) Accounts(ctx context.Context) ([]core.Account, error) {
	var rows []accountRow
	q := `SELECT id, balance, streak, tier, last_post_at, created_at, updated_at FROM accounts ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAccount())
	}
	return out, nil
}

func (s *Store) PostCounts(ctx context.Context, actions []core.ActionType, from, to time.Time) (map[core.UserID]int, error) {
	if len(actions) == 0 {
		return map[core.UserID]int{}, nil
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	q := `SELECT user_id, COUNT(*) AS n FROM activities WHERE action IN (?) AND delta >= 0`
	args := []any{names}
	if !from.IsZero() {
		q += ` AND occurred_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		q += ` AND occurred_at < ?`
		args = append(args, to.UTC())
	}
	q += ` GROUP BY user_id`
	q, inArgs, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("build post counts query: %w", err)
	}
	var rows []struct {
		UserID string `db:"user_id"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), inArgs...); err != nil {
		return nil, fmt.Errorf("aggregate post counts: %w", err)
	}
	counts := make(map[core.UserID]int, len(rows))
	for _, r := range rows {
		counts[core.UserID(r.UserID)] = r.N
	}
	return counts, nil
}
