// Demo server: in-memory ledger, default catalog, sync events, no auth.
// Intended for local exploration of the API surface, not for deployment.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/api/httpapi"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/leaderboard"
	"loyaltyledger/loyalty"
	"loyaltyledger/realtime"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	ctx := context.Background()
	store := mem.New()
	hub := realtime.NewHub()
	svc := loyalty.New(
		loyalty.WithLedger(store),
		loyalty.WithRealtime(hub),
		loyalty.WithDispatchMode(engine.DispatchSync),
	)
	cache := leaderboard.NewCache()
	cache.Bind(svc)
	board := leaderboard.NewBuilder(store, svc.Catalog(), leaderboard.WithCache(cache))

	seedDemoData(ctx, svc)

	handler := httpapi.NewMux(svc, board, hub, httpapi.Options{
		PathPrefix:      "/api",
		AllowCORSOrigin: "*",
	})

	slog.Info("starting demo server on :8080", "prefix", "/api")

	if err := http.ListenAndServe(":8080", handler); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// seedDemoData provisions a few accounts with activity so the leaderboard
// and profiles have something to show immediately.
func seedDemoData(ctx context.Context, svc *engine.Service) {
	users := []core.UserID{"alice", "bob", "carol"}
	for _, u := range users {
		if _, err := svc.CreateAccount(ctx, u); err != nil {
			slog.Warn("seed account", "user", u, "error", err)
			continue
		}
	}
	for i, u := range users {
		for j := 0; j <= i; j++ {
			if _, err := svc.AwardPoints(ctx, u, core.ActionPost, engine.AwardMeta{Source: "seed"}); err != nil {
				slog.Warn("seed award", "user", u, "error", err)
			}
		}
	}
	slog.Info("seeded demo accounts", "users", len(users))
}
