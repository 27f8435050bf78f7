package sdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	mem "loyaltyledger/adapters/memory"
	"loyaltyledger/api/httpapi"
	"loyaltyledger/catalog"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/leaderboard"
	"loyaltyledger/realtime"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Service, *realtime.Hub) {
	t.Helper()
	store := mem.New()
	svc := engine.NewService(store, catalog.Default(), engine.NewEventBus(engine.DispatchSync))
	board := leaderboard.NewBuilder(store, svc.Catalog())
	hub := realtime.NewHub()
	srv := httptest.NewServer(httpapi.NewMux(svc, board, hub, httpapi.Options{PathPrefix: "/api"}))
	t.Cleanup(srv.Close)
	return srv, svc, hub
}

func TestClientAccountLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	acct, err := client.CreateAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acct.ID != "alice" || acct.Balance != 0 {
		t.Fatalf("unexpected account: %+v", acct)
	}

	result, err := client.Award(ctx, "alice", "post", "sdk-test", "post-1")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if result.Outcome != "awarded" || result.Points <= 0 {
		t.Fatalf("unexpected award result: %+v", result)
	}

	profile, err := client.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Account.Balance != result.Balance {
		t.Fatalf("balance mismatch: %+v vs %+v", profile.Account, result)
	}
}

func TestClientAwardUnknownUser(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")

	_, err := client.Award(context.Background(), "ghost", "post", "", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "account_not_found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientRedeemRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")
	ctx := context.Background()

	if _, err := client.CreateAccount(ctx, "alice"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	result, err := client.Redeem(ctx, "alice", "coffee", 100)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Succeeded {
		t.Fatalf("expected rejection, got %+v", result)
	}
}

func TestClientStreakAndLeaderboard(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")
	ctx := context.Background()

	if _, err := client.CreateAccount(ctx, "alice"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := client.CreateAccount(ctx, "bob"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.AwardPoints(ctx, "bob", core.ActionPost, engine.AwardMeta{}); err != nil {
		t.Fatalf("award: %v", err)
	}

	status, err := client.UpdateStreak(ctx, "bob")
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if status.Streak < 1 {
		t.Fatalf("unexpected streak status: %+v", status)
	}

	entries, err := client.Leaderboard(ctx, "points", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "bob" {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}
}

func TestClientHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")

	hs, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if hs.Status != "healthy" {
		t.Fatalf("unexpected health: %+v", hs)
	}
}

func TestClientSubscribeEvents(t *testing.T) {
	srv, _, hub := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(ctx, core.NewPointsAwarded("alice", core.ActionPost, 50, 50))

	select {
	case ev := <-events:
		if ev.UserID != "alice" || ev.Type != "points_awarded" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClientValidation(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	client, _ := NewClient("http://localhost:0/api")
	if _, err := client.Award(context.Background(), "", "post", "", ""); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}
