// Package model defines the core domain types shared across the settlement
// engine. All monetary values are int64 in minor currency units — never
// float64 for money. Payout multipliers are fixed-point integers (see the
// odds package for the scale constant).
package model

import "time"

// Tier is the principal hierarchy level. Funds flow downward
// (operator → regional operator → bettor); commissions and discounts
// apply at the boundaries between tiers.
type Tier string

const (
	TierOperator         Tier = "operator"
	TierRegionalOperator Tier = "regional-operator"
	TierBettor           Tier = "bettor"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierOperator, TierRegionalOperator, TierBettor:
		return true
	}
	return false
}

// Mechanic identifies the wager classification rule.
type Mechanic string

const (
	MechanicExactPair  Mechanic = "exact-pair"
	MechanicPositional Mechanic = "positional-digit"
	MechanicCrossing   Mechanic = "combinatorial-crossing"
	MechanicParity     Mechanic = "parity"
)

// Valid reports whether m is a known mechanic.
func (m Mechanic) Valid() bool {
	switch m {
	case MechanicExactPair, MechanicPositional, MechanicCrossing, MechanicParity:
		return true
	}
	return false
}

// Outcome is the terminal (or pending) state of a wager.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
)

// MarketStatus is the market lifecycle state. Transitions are monotonic:
// waiting → open → closed → resulted.
type MarketStatus string

const (
	MarketWaiting  MarketStatus = "waiting"
	MarketOpen     MarketStatus = "open"
	MarketClosed   MarketStatus = "closed"
	MarketResulted MarketStatus = "resulted"
)

// TransferKind distinguishes direct fund movements between principals.
type TransferKind string

const (
	TransferDeposit    TransferKind = "deposit"
	TransferWithdrawal TransferKind = "withdrawal"
)

// EntryDirection is the side of a ledger entry.
type EntryDirection string

const (
	EntryDebit  EntryDirection = "debit"
	EntryCredit EntryDirection = "credit"
)

// Principal is a participant in the tier hierarchy. Balance is mutated
// only inside store transactions (settlement credits, wager placement
// debits, fund transfers); every mutation produces a ledger entry.
type Principal struct {
	ID        string    `json:"id" db:"id"`
	Tier      Tier      `json:"tier" db:"tier"`
	Balance   int64     `json:"balance" db:"balance"` // minor units, never negative
	ParentID  string    `json:"parent_id,omitempty" db:"parent_id"`
	Blocked   bool      `json:"blocked" db:"blocked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Market is a draw round wagers are placed against. A market only accepts
// wagers while open; a closing result may only be posted once it is closed.
type Market struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Status        MarketStatus `json:"status" db:"status"`
	OpeningResult string       `json:"opening_result,omitempty" db:"opening_result"`
	ClosingResult string       `json:"closing_result,omitempty" db:"closing_result"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Wager is a single stake against a market. Created pending by the
// placement path, mutated exactly once by settlement to a terminal
// outcome. BalanceAfter is the bettor's balance immediately following
// this wager's settlement and forms a per-bettor append-only audit chain
// ordered by creation time.
type Wager struct {
	ID           string     `json:"id" db:"id"`
	BettorID     string     `json:"bettor_id" db:"bettor_id"`
	MarketID     string     `json:"market_id" db:"market_id"`
	Mechanic     Mechanic   `json:"mechanic" db:"mechanic"`
	Prediction   string     `json:"prediction" db:"prediction"`
	Stake        int64      `json:"stake" db:"stake"` // minor units, > 0
	Outcome      Outcome    `json:"outcome" db:"outcome"`
	Payout       int64      `json:"payout" db:"payout"`               // meaningful once outcome != pending
	ResolvedOdds int64      `json:"resolved_odds" db:"resolved_odds"` // scaled multiplier applied at settlement
	BalanceAfter int64      `json:"balance_after" db:"balance_after"` // bettor balance after settlement credit
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// OddsRule maps a mechanic to a payout multiplier. OperatorID scopes the
// rule to one regional operator; an empty OperatorID is the platform
// default. At most one rule per (mechanic, operator) pair is active.
type OddsRule struct {
	Mechanic   Mechanic `json:"mechanic" db:"mechanic"`
	OperatorID string   `json:"operator_id,omitempty" db:"operator_id"`
	Multiplier int64    `json:"multiplier" db:"multiplier"` // scaled by odds.Scale
}

// CommissionRule sets the commission a regional operator earns on funds
// routed to it, in basis points over the nominal amount.
type CommissionRule struct {
	OperatorID string `json:"operator_id" db:"operator_id"`
	Category   string `json:"category" db:"category"` // mechanic name or "deposit"
	Bps        int64  `json:"bps" db:"bps"`           // 0–10000
}

// DiscountRule sets the bonus a bettor receives on top of a deposit, in
// basis points. BettorID optionally narrows the rule to one bettor.
type DiscountRule struct {
	OperatorID string `json:"operator_id" db:"operator_id"`
	BettorID   string `json:"bettor_id,omitempty" db:"bettor_id"`
	Category   string `json:"category" db:"category"`
	Bps        int64  `json:"bps" db:"bps"`
}

// LedgerEntry is an immutable record of a single balance mutation.
// Transfers write two entries that reference each other through
// CounterpartID; settlement credits and placement debits write one entry
// linked to the wager that caused them. Once created, entries are never
// modified or deleted.
type LedgerEntry struct {
	ID            string         `json:"id" db:"id"`
	PrincipalID   string         `json:"principal_id" db:"principal_id"`
	CounterpartID string         `json:"counterpart_id,omitempty" db:"counterpart_id"`
	Direction     EntryDirection `json:"direction" db:"direction"`
	Amount        int64          `json:"amount" db:"amount"`
	Kind          string         `json:"kind" db:"kind"` // "deposit", "withdrawal", "stake", "payout"
	WagerID       string         `json:"wager_id,omitempty" db:"wager_id"`
	MarketID      string         `json:"market_id,omitempty" db:"market_id"`
	BalanceAfter  int64          `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Ledger entry kinds for non-transfer mutations.
const (
	EntryKindStake  = "stake"
	EntryKindPayout = "payout"
)
