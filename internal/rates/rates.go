// Package rates computes the debit and credit sides of a fund transfer
// between tiers. The applicable adjustment is a pure function of
// (fromTier, toTier, transferKind) plus the configured basis-point
// rates — callers never branch on tier strings themselves.
//
// Commission reduces what an upper tier pays when funding a regional
// operator: the operator keeps the remainder as margin and the regional
// operator is deemed to have earned the nominal amount. Discount adds a
// bonus on top of what a bettor receives; the funding operator is
// debited the grossed-up figure. Rates never compound across tiers.
package rates

import (
	"errors"
	"fmt"

	"github.com/drawbet/settlement-engine/internal/model"
)

// BpsDenominator is the basis-point base: 10000 bps = 100%.
const BpsDenominator = 10000

var (
	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = errors.New("rates: amount must be positive")

	// ErrInvalidRate is returned for rates outside 0–10000 bps.
	ErrInvalidRate = errors.New("rates: rate out of range")

	// ErrUnsupportedRoute is returned for a (fromTier, toTier, kind)
	// combination the hierarchy does not allow, e.g. a bettor funding
	// an operator with a deposit.
	ErrUnsupportedRoute = errors.New("rates: unsupported transfer route")
)

// Config carries the basis-point rates looked up for one transfer.
// Zero values mean "no rule configured": nominal amounts apply.
type Config struct {
	CommissionBps int64 // operator → regional operator
	DiscountBps   int64 // regional operator → bettor
}

// Quote is the computed debit/credit split for one transfer. Debit is
// what the sender pays, Credit what the receiver gains; the two differ
// exactly when a commission or discount applies.
type Quote struct {
	Debit  int64
	Credit int64
}

// ForTransfer computes the quote for moving amount minor units from one
// tier to another.
func ForTransfer(from, to model.Tier, kind model.TransferKind, amount int64, cfg Config) (Quote, error) {
	if amount <= 0 {
		return Quote{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if cfg.CommissionBps < 0 || cfg.CommissionBps > BpsDenominator {
		return Quote{}, fmt.Errorf("%w: commission %d bps", ErrInvalidRate, cfg.CommissionBps)
	}
	if cfg.DiscountBps < 0 || cfg.DiscountBps > BpsDenominator {
		return Quote{}, fmt.Errorf("%w: discount %d bps", ErrInvalidRate, cfg.DiscountBps)
	}

	switch kind {
	case model.TransferDeposit:
		return depositQuote(from, to, amount, cfg)
	case model.TransferWithdrawal:
		return withdrawalQuote(from, to, amount)
	default:
		return Quote{}, fmt.Errorf("%w: kind %q", ErrUnsupportedRoute, kind)
	}
}

// depositQuote handles downward funding.
func depositQuote(from, to model.Tier, amount int64, cfg Config) (Quote, error) {
	switch {
	case from == model.TierOperator && to == model.TierRegionalOperator:
		// The operator pays only the commission share; the regional
		// operator is credited the full nominal amount.
		return Quote{
			Debit:  amount * cfg.CommissionBps / BpsDenominator,
			Credit: amount,
		}, nil

	case from == model.TierRegionalOperator && to == model.TierBettor:
		// The bettor receives the nominal amount plus the discount
		// bonus; the regional operator funds both.
		bonus := amount * cfg.DiscountBps / BpsDenominator
		return Quote{
			Debit:  amount + bonus,
			Credit: amount + bonus,
		}, nil

	case from == model.TierOperator && to == model.TierBettor:
		// Direct platform funding, no intermediary rates.
		return Quote{Debit: amount, Credit: amount}, nil
	}
	return Quote{}, fmt.Errorf("%w: deposit %s → %s", ErrUnsupportedRoute, from, to)
}

// withdrawalQuote handles upward returns; always nominal.
func withdrawalQuote(from, to model.Tier, amount int64) (Quote, error) {
	switch {
	case from == model.TierBettor && to == model.TierRegionalOperator,
		from == model.TierBettor && to == model.TierOperator,
		from == model.TierRegionalOperator && to == model.TierOperator:
		return Quote{Debit: amount, Credit: amount}, nil
	}
	return Quote{}, fmt.Errorf("%w: withdrawal %s → %s", ErrUnsupportedRoute, from, to)
}
