// Package risk implements stake limits consulted at wager placement.
//
// A single bettor piling stake onto one draw, or one regional operator's
// whole book leaning the same way, is correlated risk the settlement
// ledger cannot undo after the fact. The limiter caps open (pending)
// stake per bettor and in aggregate per regional operator. It is an
// explicit, injected policy object: no global state, deterministic to
// test.
package risk

import "errors"

var (
	// ErrBettorLimitExceeded is returned when a wager would push one
	// bettor's open stake beyond the per-bettor maximum.
	ErrBettorLimitExceeded = errors.New("risk: bettor open-stake limit exceeded")

	// ErrOperatorLimitExceeded is returned when a wager would push the
	// aggregate open stake across an operator's bettors beyond the
	// operator maximum.
	ErrOperatorLimitExceeded = errors.New("risk: operator open-stake limit exceeded")
)

// ExposureLimiter enforces open-stake limits. A zero limit disables
// that check.
type ExposureLimiter struct {
	// MaxPerBettor is the maximum open stake for any single bettor.
	MaxPerBettor int64

	// MaxPerOperator is the maximum aggregate open stake across all
	// bettors assigned to one regional operator.
	MaxPerOperator int64
}

// NewExposureLimiter creates a limiter with the given per-bettor and
// per-operator open-stake limits.
func NewExposureLimiter(maxPerBettor, maxPerOperator int64) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerBettor:   maxPerBettor,
		MaxPerOperator: maxPerOperator,
	}
}

// Check validates whether adding stake respects the limits.
//
// Parameters:
//   - stake: the new wager's stake
//   - bettorOpen: the bettor's current pending stake total
//   - operatorOpen: the pending stake total across the bettor's
//     operator (0 when the bettor has no operator)
//
// Returns nil if the wager is within limits, or an error describing the
// violation.
func (l *ExposureLimiter) Check(stake, bettorOpen, operatorOpen int64) error {
	if l.MaxPerBettor > 0 && bettorOpen+stake > l.MaxPerBettor {
		return ErrBettorLimitExceeded
	}
	if l.MaxPerOperator > 0 && operatorOpen+stake > l.MaxPerOperator {
		return ErrOperatorLimitExceeded
	}
	return nil
}
