// Package loyalty is the embedding facade: one constructor that assembles a
// ready-to-use ledger engine from options, for applications that want the
// engine in-process rather than behind the HTTP server.
package loyalty

import (
	"context"
	"time"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/catalog"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/realtime"
)

// Option configures the engine builder.
type Option func(*config)

type config struct {
	ledger engine.Ledger
	cat    *catalog.Catalog
	mode   engine.DispatchMode
	hub    *realtime.Hub
	loc    *time.Location
}

// WithLedger sets the persistence adapter.
func WithLedger(l engine.Ledger) Option { return func(c *config) { c.ledger = l } }

// WithCatalog sets the reward catalog.
func WithCatalog(cat *catalog.Catalog) Option { return func(c *config) { c.cat = cat } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLocation sets the reference timezone for calendar-day boundaries.
func WithLocation(loc *time.Location) Option { return func(c *config) { c.loc = loc } }

var bridgedEvents = []core.EventType{
	core.EventPointsAwarded,
	core.EventPointsRedeemed,
	core.EventBadgeGranted,
	core.EventTierUpgraded,
	core.EventStreakUpdated,
}

// New builds a configured Service. Defaults when options are omitted:
//   - ledger: in-memory
//   - catalog: catalog.Default()
//   - dispatch: async
//   - timezone: UTC
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync, loc: time.UTC}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.ledger == nil {
		cfg.ledger = mem.New()
	}
	if cfg.cat == nil {
		cfg.cat = catalog.Default()
	}
	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewService(cfg.ledger, cfg.cat, bus, engine.WithLocation(cfg.loc))
	if cfg.hub != nil {
		for _, typ := range bridgedEvents {
			bus.Subscribe(typ, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
		}
	}
	return svc
}
