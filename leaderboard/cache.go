package leaderboard

import (
	"context"
	"sync"
	"time"

	"loyaltyledger/core"
	"loyaltyledger/engine"
)

// Subscriber is the event-bus surface the cache binds to.
type Subscriber interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

// Cache keeps a live points ranking fed by balance events, so hot
// leaderboard reads skip the full account scan. Award and redemption events
// carry the committed balance; badge bonuses arrive as deltas and are folded
// onto the cached score.
type Cache struct {
	mu    sync.Mutex
	board Board
	first map[core.UserID]time.Time
}

func NewCache() *Cache {
	return &Cache{board: NewSkipList(), first: map[core.UserID]time.Time{}}
}

// Seed loads the current accounts so rankings are complete from the start,
// not just for users active since boot.
func (c *Cache) Seed(ctx context.Context, ledger engine.Ledger) error {
	accounts, err := ledger.Accounts(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range accounts {
		c.first[a.ID] = a.CreatedAt
		c.board.Update(Entry{UserID: a.ID, Score: a.Balance, CreatedAt: a.CreatedAt})
	}
	return nil
}

// Bind subscribes the cache to every balance-changing event type. Returns a
// combined unsubscribe.
func (c *Cache) Bind(bus Subscriber) func() {
	unsubs := []func(){
		bus.Subscribe(core.EventPointsAwarded, c.OnEvent),
		bus.Subscribe(core.EventPointsRedeemed, c.OnEvent),
		bus.Subscribe(core.EventBadgeGranted, c.OnEvent),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// OnEvent folds one event into the ranking.
func (c *Cache) OnEvent(_ context.Context, e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created, ok := c.first[e.UserID]
	if !ok {
		// First sighting of a user created after Seed: the event time stands
		// in for the creation time the event doesn't carry. Tie-breaks stay
		// stable within the process.
		created = e.Time
		c.first[e.UserID] = created
	}
	entry := Entry{UserID: e.UserID, CreatedAt: created}
	switch e.Type {
	case core.EventBadgeGranted:
		cur, _ := c.board.Get(e.UserID)
		entry.Score = cur.Score + e.Bonus
	default:
		entry.Score = e.Balance
	}
	if entry.Score < 0 {
		entry.Score = 0
	}
	c.board.Update(entry)
}

// Top returns the best n cached entries with ranks assigned.
func (c *Cache) Top(n int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.TopN(n)
}
