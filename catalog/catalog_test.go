package catalog

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"loyaltyledger/core"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}

func TestRule(t *testing.T) {
	c := Default()
	r, ok := c.Rule(core.ActionPost)
	if !ok || r.Points != 50 {
		t.Fatalf("post rule = %+v, ok=%t", r, ok)
	}
	if _, ok := c.Rule("unknown_action"); ok {
		t.Fatal("unknown action must have no rule")
	}

	c.Rules[core.ActionPost] = core.RewardRule{Action: core.ActionPost, Points: 50, Multiplier: 1, Active: false}
	if _, ok := c.Rule(core.ActionPost); ok {
		t.Fatal("inactive rule must not be returned")
	}
}

func TestTierFor(t *testing.T) {
	c := Default()
	cases := []struct {
		balance int64
		want    core.TierID
	}{
		{0, "bronze"},
		{999, "bronze"},
		{1000, "silver"},
		{2499, "silver"},
		{2500, "gold"},
		{5000, "platinum"},
		{1_000_000, "platinum"},
	}
	for _, tc := range cases {
		tier, ok := c.TierFor(tc.balance)
		if !ok || tier.ID != tc.want {
			t.Fatalf("TierFor(%d) = %q, ok=%t, want %q", tc.balance, tier.ID, ok, tc.want)
		}
	}

	c.Tiers = []core.LoyaltyTier{{ID: "silver", Name: "Silver", MinPoints: 1000}}
	if _, ok := c.TierFor(999); ok {
		t.Fatal("balance below every tier must return ok=false")
	}
}

func TestNextTier(t *testing.T) {
	c := Default()
	next, ok := c.NextTier(0)
	if !ok || next.ID != "silver" {
		t.Fatalf("NextTier(0) = %q, ok=%t", next.ID, ok)
	}
	next, ok = c.NextTier(2500)
	if !ok || next.ID != "platinum" {
		t.Fatalf("NextTier(2500) = %q, ok=%t", next.ID, ok)
	}
	if _, ok := c.NextTier(5000); ok {
		t.Fatal("top tier has no next tier")
	}
}

func TestStreakBonusMultiplier(t *testing.T) {
	b := StreakBonus{MinDays: 7, PerDay: 0.02, Max: 2.0}
	cases := []struct {
		streak int
		want   float64
	}{
		{0, 1.0},
		{6, 1.0},
		{7, 1.14},
		{30, 1.6},
		{500, 2.0}, // capped at Max
	}
	for _, tc := range cases {
		got := b.Multiplier(tc.streak)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Multiplier(%d) = %v, want %v", tc.streak, got, tc.want)
		}
	}
}

func TestValidateRejectsBadTables(t *testing.T) {
	cases := map[string]func(*Catalog){
		"mismatched rule key": func(c *Catalog) {
			c.Rules[core.ActionPost] = core.RewardRule{Action: core.ActionLike, Points: 10, Multiplier: 1, Active: true}
		},
		"negative points": func(c *Catalog) {
			c.Rules[core.ActionPost] = core.RewardRule{Action: core.ActionPost, Points: -1, Multiplier: 1, Active: true}
		},
		"multiplier below one": func(c *Catalog) {
			c.Rules[core.ActionPost] = core.RewardRule{Action: core.ActionPost, Points: 10, Multiplier: 0.5, Active: true}
		},
		"unsorted tiers": func(c *Catalog) {
			c.Tiers[0], c.Tiers[1] = c.Tiers[1], c.Tiers[0]
		},
		"duplicate tier id": func(c *Catalog) {
			c.Tiers = append(c.Tiers, c.Tiers[0])
		},
		"unsorted milestones": func(c *Catalog) {
			c.MilestoneBadges[0], c.MilestoneBadges[2] = c.MilestoneBadges[2], c.MilestoneBadges[0]
		},
		"zero count threshold": func(c *Catalog) {
			c.CountBadges[0].Threshold = 0
		},
		"zero streak days": func(c *Catalog) {
			c.StreakBadges[0].Days = 0
		},
		"broken streak bonus": func(c *Catalog) {
			c.StreakBonus.Max = 0.5
		},
	}
	for name, mutate := range cases {
		c := Default()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	data, err := json.Marshal(Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r, ok := c.Rule(core.ActionInvite); !ok || r.Points != 100 {
		t.Fatalf("loaded invite rule = %+v, ok=%t", r, ok)
	}
	if len(c.Tiers) != 4 {
		t.Fatalf("loaded %d tiers", len(c.Tiers))
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatal("expected error for malformed file")
	}

	// Valid JSON, invalid catalog: tier table out of order.
	invalid := filepath.Join(t.TempDir(), "invalid.json")
	c := Default()
	c.Tiers[0], c.Tiers[1] = c.Tiers[1], c.Tiers[0]
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(invalid, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(invalid); err == nil {
		t.Fatal("expected validation error")
	}
}
