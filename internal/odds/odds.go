// Package odds is the single odds resolution entry point. Both the
// settlement ledger (real payouts) and the exposure aggregator
// (potential payouts) resolve multipliers here, so the two can never
// disagree on what a wager category pays.
//
// Multipliers are fixed-point integers scaled by Scale. shopspring/decimal
// is used only at the configuration boundary (parsing and formatting);
// payout arithmetic is pure integer math.
package odds

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/store"
)

// Scale is the fixed-point factor for multipliers: a stored value of 950
// means x9.50. Two decimal places cover every configured odds table.
const Scale = 100

// ErrConfigurationMissing is returned when neither a regional-operator
// rule nor a platform default exists for a mechanic. Callers must surface
// it, never fall back to a hardcoded multiplier: a payout that cannot be
// explained from configuration alone is worse than a failed settlement.
var ErrConfigurationMissing = errors.New("odds: no rule configured")

// Multiplier is a payout multiplier scaled by Scale.
type Multiplier int64

// ParseMultiplier converts a decimal multiplier string ("9.5") to its
// scaled form. Values must be positive and representable at two decimal
// places.
func ParseMultiplier(s string) (Multiplier, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("odds: parse multiplier %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal multiplier to its scaled form.
func FromDecimal(d decimal.Decimal) (Multiplier, error) {
	if d.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("odds: multiplier %s must be positive", d)
	}
	scaled := d.Mul(decimal.NewFromInt(Scale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("odds: multiplier %s has more than 2 decimal places", d)
	}
	return Multiplier(scaled.IntPart()), nil
}

// Decimal returns the multiplier as its nominal decimal value.
func (m Multiplier) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats the multiplier as its nominal decimal value ("9.5").
func (m Multiplier) String() string {
	return m.Decimal().String()
}

// Payout computes floor(stake * multiplier) in minor units. Integer
// division floors because stakes and multipliers are non-negative.
func Payout(stake int64, m Multiplier) int64 {
	return stake * int64(m) / Scale
}

// Resolver resolves the effective multiplier for a bettor and mechanic,
// honoring the two-level override hierarchy: a regional-operator rule
// beats the platform default. Pure read, no side effects.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the effective multiplier for a bettor's wager category.
func (r *Resolver) Resolve(ctx context.Context, bettorID string, mechanic model.Mechanic) (Multiplier, error) {
	p, err := r.store.GetPrincipal(ctx, bettorID)
	if err != nil {
		return 0, fmt.Errorf("odds: resolve bettor %s: %w", bettorID, err)
	}

	if p.ParentID != "" {
		rule, err := r.store.GetOddsRule(ctx, mechanic, p.ParentID)
		if err == nil {
			return Multiplier(rule.Multiplier), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
	}

	rule, err := r.store.GetOddsRule(ctx, mechanic, "")
	if err == nil {
		return Multiplier(rule.Multiplier), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: mechanic %s for bettor %s", ErrConfigurationMissing, mechanic, bettorID)
	}
	return 0, err
}
