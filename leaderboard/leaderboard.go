// Package leaderboard builds read-only rankings over the ledger's
// denormalized counters. Ties rank by earlier account creation, then by id,
// so identical inputs always produce identical orderings.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"loyaltyledger/catalog"
	"loyaltyledger/core"
	"loyaltyledger/engine"
)

// Metric selects the ranked counter.
type Metric string

const (
	MetricPoints Metric = "points"
	MetricStreak Metric = "streak"
	MetricPosts  Metric = "posts"
)

// ParseMetric validates a metric name from an external caller.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricPoints, MetricStreak, MetricPosts:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown leaderboard metric %q", s)
}

// Entry is one ranked row.
type Entry struct {
	Rank      int         `json:"rank"`
	UserID    core.UserID `json:"user_id"`
	Score     int64       `json:"score"`
	CreatedAt time.Time   `json:"created_at"`
}

// Builder ranks accounts off the ledger, or off a live Cache for the points
// metric when one is attached.
type Builder struct {
	ledger engine.Ledger
	cat    *catalog.Catalog
	cache  *Cache
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCache serves points rankings from a live event-fed cache instead of
// scanning the ledger on every read.
func WithCache(c *Cache) BuilderOption {
	return func(b *Builder) { b.cache = c }
}

func NewBuilder(ledger engine.Ledger, cat *catalog.Catalog, opts ...BuilderOption) *Builder {
	b := &Builder{ledger: ledger, cat: cat}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build returns the top `limit` entries for the metric, 1-based ranks.
// points and streak read the accounts' stored counters; posts aggregates
// the activity log over the catalog's post-type actions.
func (b *Builder) Build(ctx context.Context, metric Metric, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if metric == MetricPoints && b.cache != nil {
		return b.cache.Top(limit), nil
	}
	accounts, err := b.ledger.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var postCounts map[core.UserID]int
	if metric == MetricPosts {
		postCounts, err = b.ledger.PostCounts(ctx, b.cat.PostActions(), time.Time{}, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("aggregate post counts: %w", err)
		}
	}

	entries := make([]Entry, 0, len(accounts))
	for _, a := range accounts {
		var score int64
		switch metric {
		case MetricPoints:
			score = a.Balance
		case MetricStreak:
			score = int64(a.Streak)
		case MetricPosts:
			score = int64(postCounts[a.ID])
		default:
			return nil, fmt.Errorf("unknown leaderboard metric %q", metric)
		}
		entries = append(entries, Entry{UserID: a.ID, Score: score, CreatedAt: a.CreatedAt})
	}

	sort.Slice(entries, func(i, j int) bool { return entryLess(entries[i], entries[j]) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// entryLess orders by score desc, then account creation asc, then id asc.
func entryLess(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.UserID < b.UserID
}
