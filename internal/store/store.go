// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/drawbet/settlement-engine/internal/model"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when a principal, market, wager, or rule
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadySettled is returned by SettleWager when the wager is no
	// longer pending. Callers treat this as "another settlement attempt
	// won the race" and skip the wager.
	ErrAlreadySettled = errors.New("store: wager already settled")

	// ErrInsufficientFunds is returned when a debit would take a
	// principal's balance negative. The whole operation is rolled back.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrInvalidTransition is returned when a market status CAS fails
	// because the market is not in the expected state.
	ErrInvalidTransition = errors.New("store: invalid market transition")
)

// Store is the persistence interface. All balance-affecting operations
// (PlaceWager, SettleWager, Transfer) are atomic: they either apply all
// of their writes or none, and they serialize balance updates per
// principal via row locking or an equivalent.
type Store interface {
	// --- Principals ---

	// CreatePrincipal persists a new principal.
	CreatePrincipal(ctx context.Context, p *model.Principal) error

	// GetPrincipal retrieves a principal by ID.
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarketsByStatus returns all markets in the given status.
	ListMarketsByStatus(ctx context.Context, status model.MarketStatus) ([]model.Market, error)

	// TransitionMarket moves a market from one status to the next.
	// The compare-and-set fails with ErrInvalidTransition if the market
	// is not currently in the `from` status.
	TransitionMarket(ctx context.Context, id string, from, to model.MarketStatus) error

	// SetClosingResult records the authoritative closing result on a
	// closed market. Fails with ErrInvalidTransition if the market is
	// not closed or already carries a different result.
	SetClosingResult(ctx context.Context, id, closing string) error

	// --- Wagers ---

	// PlaceWager atomically debits the bettor's stake, creates the
	// pending wager, and appends a stake ledger entry.
	PlaceWager(ctx context.Context, w *model.Wager) error

	// GetWager retrieves a wager by ID.
	GetWager(ctx context.Context, id string) (*model.Wager, error)

	// ListPendingWagersByMarket returns pending wagers for a market in
	// creation order.
	ListPendingWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error)

	// ListWagersByBettor returns all wagers for a bettor in creation
	// order (the balance-after audit chain).
	ListWagersByBettor(ctx context.Context, bettorID string) ([]model.Wager, error)

	// SumPendingStake returns the total pending stake for one bettor.
	SumPendingStake(ctx context.Context, bettorID string) (int64, error)

	// SumPendingStakeByOperator returns the total pending stake across
	// all bettors assigned to one regional operator.
	SumPendingStakeByOperator(ctx context.Context, operatorID string) (int64, error)

	// SettleWager applies a terminal outcome to a pending wager. In one
	// transaction it compare-and-sets the outcome from pending, records
	// payout and resolved odds, credits the bettor's balance when payout
	// is positive, stamps balance-after on the wager, and appends a
	// payout ledger entry. Returns the bettor's balance after the
	// credit. ErrAlreadySettled when the wager is not pending.
	SettleWager(ctx context.Context, wagerID string, outcome model.Outcome, payout, resolvedOdds int64) (balanceAfter int64, err error)

	// --- Odds and rate rules ---

	// PutOddsRule upserts the rule for its (mechanic, operator) pair.
	PutOddsRule(ctx context.Context, r *model.OddsRule) error

	// GetOddsRule retrieves the rule for a mechanic. An empty operatorID
	// selects the platform default.
	GetOddsRule(ctx context.Context, mechanic model.Mechanic, operatorID string) (*model.OddsRule, error)

	// PutCommissionRule upserts the rule for its (operator, category) pair.
	PutCommissionRule(ctx context.Context, r *model.CommissionRule) error

	// GetCommissionRule retrieves a commission rule; ErrNotFound when
	// the operator has none for the category.
	GetCommissionRule(ctx context.Context, operatorID, category string) (*model.CommissionRule, error)

	// PutDiscountRule upserts the rule for its (operator, bettor, category) triple.
	PutDiscountRule(ctx context.Context, r *model.DiscountRule) error

	// GetDiscountRule retrieves a discount rule, preferring a
	// bettor-specific rule over the operator-wide one.
	GetDiscountRule(ctx context.Context, operatorID, bettorID, category string) (*model.DiscountRule, error)

	// --- Transfers and ledger ---

	// Transfer atomically debits one principal and credits another,
	// writing two ledger entries that reference each other. The debit
	// and credit amounts may differ (commission/discount adjusted).
	// ErrInsufficientFunds aborts the whole transfer.
	Transfer(ctx context.Context, fromID, toID string, debit, credit int64, kind model.TransferKind) (fromEntryID, toEntryID string, err error)

	// ListLedgerByPrincipal returns a principal's ledger entries in
	// creation order.
	ListLedgerByPrincipal(ctx context.Context, principalID string) ([]model.LedgerEntry, error)
}
