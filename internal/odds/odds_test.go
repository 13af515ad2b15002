package odds

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/store"
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.CreatePrincipal(ctx, &model.Principal{
		ID: "op-1", Tier: model.TierRegionalOperator,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreatePrincipal(ctx, &model.Principal{
		ID: "bettor-1", Tier: model.TierBettor, ParentID: "op-1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreatePrincipal(ctx, &model.Principal{
		ID: "orphan", Tier: model.TierBettor,
	}); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestResolve_OperatorRuleOverridesDefault(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)

	st.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicExactPair, Multiplier: 9000})
	st.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicExactPair, OperatorID: "op-1", Multiplier: 9500})

	m, err := NewResolver(st).Resolve(ctx, "bettor-1", model.MechanicExactPair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != 9500 {
		t.Errorf("expected operator multiplier 9500, got %d", m)
	}
}

func TestResolve_FallsBackToPlatformDefault(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)

	st.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicParity, Multiplier: 190})

	// bettor-1's operator has no parity rule of its own.
	m, err := NewResolver(st).Resolve(ctx, "bettor-1", model.MechanicParity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != 190 {
		t.Errorf("expected default multiplier 190, got %d", m)
	}
}

func TestResolve_NoRuleIsConfigurationMissing(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)

	_, err := NewResolver(st).Resolve(ctx, "bettor-1", model.MechanicCrossing)
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestResolve_BettorWithoutOperatorUsesDefault(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)

	st.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicExactPair, Multiplier: 9000})

	m, err := NewResolver(st).Resolve(ctx, "orphan", model.MechanicExactPair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != 9000 {
		t.Errorf("expected 9000, got %d", m)
	}
}

func TestParseMultiplier(t *testing.T) {
	cases := []struct {
		in      string
		want    Multiplier
		wantErr bool
	}{
		{"9.5", 950, false},
		{"2", 200, false},
		{"1.05", 105, false},
		{"0", 0, true},
		{"-1.5", 0, true},
		{"1.055", 0, true}, // finer than the scale can represent
		{"abc", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseMultiplier(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMultiplier(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMultiplier(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMultiplier(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPayout_Floors(t *testing.T) {
	// 33 * 1.5 = 49.5 → 49
	if got := Payout(33, 150); got != 49 {
		t.Errorf("expected floored payout 49, got %d", got)
	}
	// 100 * 2.0 = 200 exactly
	if got := Payout(100, 200); got != 200 {
		t.Errorf("expected 200, got %d", got)
	}
}

func TestMultiplier_Decimal_RoundTrips(t *testing.T) {
	for _, s := range []string{"9.5", "2", "1.05"} {
		m, err := ParseMultiplier(s)
		if err != nil {
			t.Fatalf("ParseMultiplier(%q): %v", s, err)
		}
		want := decimal.RequireFromString(s)
		if !m.Decimal().Equal(want) {
			t.Errorf("Multiplier(%d).Decimal() = %s, want %s", m, m.Decimal(), want)
		}
	}
}
