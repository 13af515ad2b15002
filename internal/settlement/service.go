// Package settlement provides the settlement ledger and its HTTP
// handlers: it applies market results to pending wagers as atomic,
// auditable balance transitions, runs the wager placement path, and
// moves funds between principals with commission/discount adjustments.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drawbet/settlement-engine/internal/events"
	"github.com/drawbet/settlement-engine/internal/mechanic"
	"github.com/drawbet/settlement-engine/internal/metrics"
	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/odds"
	"github.com/drawbet/settlement-engine/internal/rates"
	"github.com/drawbet/settlement-engine/internal/risk"
	"github.com/drawbet/settlement-engine/internal/store"
)

var (
	// ErrInvalidMarketState is returned when settlement is attempted on
	// a market that is not closed, or when a replayed settlement carries
	// a different closing result than the recorded one.
	ErrInvalidMarketState = errors.New("settlement: invalid market state")

	// ErrInvalidClosingResult is returned for closing results that are
	// not two digits.
	ErrInvalidClosingResult = errors.New("settlement: closing result must be two digits")

	// ErrInvalidStake is returned for non-positive stakes.
	ErrInvalidStake = errors.New("settlement: stake must be positive")

	// ErrInvalidPrediction is returned when a prediction does not parse
	// under its mechanic's canonical encoding. Placement rejects it;
	// once money is taken it would classify as a loss instead.
	ErrInvalidPrediction = errors.New("settlement: prediction does not match mechanic encoding")

	// ErrPrincipalBlocked is returned when a blocked principal is party
	// to a placement or transfer.
	ErrPrincipalBlocked = errors.New("settlement: principal is blocked")

	// ErrNotLinked is returned when a deposit does not follow the
	// parent chain of the receiving principal.
	ErrNotLinked = errors.New("settlement: principals are not linked in the tier hierarchy")
)

// The rate category fund transfers are configured under.
const transferCategory = "deposit"

// Failure describes one wager that could not be settled and awaits
// operator remediation.
type Failure struct {
	WagerID string `json:"wager_id"`
	Reason  string `json:"reason"`
}

// Report summarizes one settlement run over a market.
type Report struct {
	MarketID      string    `json:"market_id"`
	ClosingResult string    `json:"closing_result"`
	SettledCount  int       `json:"settled_count"`
	CreditedTotal int64     `json:"credited_total"`
	Failures      []Failure `json:"failures"`
}

// TransferResult carries the two linked ledger entry IDs and the
// commission/discount-adjusted amounts actually moved.
type TransferResult struct {
	FromEntryID string `json:"from_ledger_entry_id"`
	ToEntryID   string `json:"to_ledger_entry_id"`
	Debit       int64  `json:"debit"`
	Credit      int64  `json:"credit"`
}

// Service is the settlement ledger. It owns every balance-affecting
// operation; the odds resolver it carries is the same one the exposure
// aggregator uses, so real and potential payouts can never diverge.
type Service struct {
	store     store.Store
	resolver  *odds.Resolver
	limiter   *risk.ExposureLimiter
	hub       *WSHub            // optional live feed
	publisher *events.Publisher // optional Kafka events
}

// NewService creates the settlement service. Pass nil for hub and
// publisher when live feeds / event publishing are not needed.
func NewService(st store.Store, resolver *odds.Resolver, limiter *risk.ExposureLimiter, hub *WSHub, publisher *events.Publisher) *Service {
	return &Service{
		store:     st,
		resolver:  resolver,
		limiter:   limiter,
		hub:       hub,
		publisher: publisher,
	}
}

// SettleMarket applies the closing result to every pending wager on the
// market. Per-wager failures do not block the rest of the batch; the
// market transitions to resulted only when no failures remain, so a
// failed run can be retried after the operator fixes the configuration.
// Re-invoking with the same closing result is idempotent: wagers already
// terminal are skipped at the store's compare-and-set.
func (s *Service) SettleMarket(ctx context.Context, marketID, closing string) (*Report, error) {
	start := time.Now()

	if !validClosing(closing) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClosingResult, closing)
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case model.MarketClosed:
		if err := s.store.SetClosingResult(ctx, marketID, closing); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				return nil, fmt.Errorf("%w: market %s already carries result %s",
					ErrInvalidMarketState, marketID, m.ClosingResult)
			}
			return nil, err
		}
	case model.MarketResulted:
		// Replay of a finished settlement: allowed, but only with the
		// recorded result.
		if m.ClosingResult != closing {
			return nil, fmt.Errorf("%w: market %s resulted %s, got %s",
				ErrInvalidMarketState, marketID, m.ClosingResult, closing)
		}
	default:
		return nil, fmt.Errorf("%w: market %s is %s", ErrInvalidMarketState, marketID, m.Status)
	}

	wagers, err := s.store.ListPendingWagersByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		MarketID:      marketID,
		ClosingResult: closing,
		Failures:      []Failure{},
	}

	for i := range wagers {
		w := &wagers[i]

		outcome := mechanic.Classify(w.Mechanic, w.Prediction, closing)

		var payout int64
		var resolved odds.Multiplier
		if outcome == model.OutcomeWin {
			resolved, err = s.resolver.Resolve(ctx, w.BettorID, w.Mechanic)
			if err != nil {
				// Missing configuration is fatal to this wager only;
				// never default to a hardcoded multiplier.
				report.Failures = append(report.Failures, Failure{WagerID: w.ID, Reason: err.Error()})
				metrics.SettlementFailures.Inc()
				slog.Error("wager settlement failed", "wager", w.ID, "err", err)
				continue
			}
			payout = odds.Payout(w.Stake, resolved)
		}

		balanceAfter, err := s.store.SettleWager(ctx, w.ID, outcome, payout, int64(resolved))
		if errors.Is(err, store.ErrAlreadySettled) {
			continue // a concurrent settlement run won the race
		}
		if err != nil {
			report.Failures = append(report.Failures, Failure{WagerID: w.ID, Reason: err.Error()})
			metrics.SettlementFailures.Inc()
			slog.Error("wager settlement failed", "wager", w.ID, "err", err)
			continue
		}

		report.SettledCount++
		report.CreditedTotal += payout
		metrics.WagersSettled.WithLabelValues(string(outcome)).Inc()
		if payout > 0 {
			metrics.PayoutsCredited.Add(float64(payout))
		}

		slog.Info("wager settled",
			"wager", w.ID,
			"bettor", w.BettorID,
			"market", marketID,
			"mechanic", w.Mechanic,
			"outcome", outcome,
			"payout", payout,
			"odds", resolved.String(),
			"balance_after", balanceAfter,
		)

		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:     "wager_settled",
				MarketID: marketID,
				WagerID:  w.ID,
				BettorID: w.BettorID,
				Outcome:  string(outcome),
				Payout:   payout,
			})
		}
		s.publisher.PublishWagerSettled(ctx, events.WagerSettled{
			WagerID:      w.ID,
			BettorID:     w.BettorID,
			MarketID:     marketID,
			Mechanic:     string(w.Mechanic),
			Outcome:      string(outcome),
			Payout:       payout,
			ResolvedOdds: int64(resolved),
		})
	}

	if len(report.Failures) == 0 {
		err := s.store.TransitionMarket(ctx, marketID, model.MarketClosed, model.MarketResulted)
		switch {
		case err == nil:
			if s.hub != nil {
				s.hub.Broadcast(WSMessage{
					Type:          "market_resulted",
					MarketID:      marketID,
					ClosingResult: closing,
				})
			}
			s.publisher.PublishMarketResulted(ctx, events.MarketResulted{
				MarketID:      marketID,
				ClosingResult: closing,
				SettledCount:  report.SettledCount,
				CreditedTotal: report.CreditedTotal,
			})
		case errors.Is(err, store.ErrInvalidTransition):
			// Already resulted: a replay or a concurrent run finished first.
		default:
			return nil, err
		}
	} else {
		slog.Warn("market settlement incomplete",
			"market", marketID, "failures", len(report.Failures))
	}

	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	return report, nil
}

// PlaceWager validates and records a new pending wager, debiting the
// stake atomically. Effective odds are not stamped here: they are
// resolved at settlement time, because rates can change before a market
// closes.
func (s *Service) PlaceWager(ctx context.Context, bettorID, marketID string, mech model.Mechanic, prediction string, stake int64) (*model.Wager, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStake, stake)
	}
	if !mech.Valid() || !mechanic.ValidPrediction(mech, prediction) {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidPrediction, mech, prediction)
	}

	bettor, err := s.store.GetPrincipal(ctx, bettorID)
	if err != nil {
		return nil, err
	}
	if bettor.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalBlocked, bettorID)
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, fmt.Errorf("%w: market %s is %s", ErrInvalidMarketState, marketID, m.Status)
	}

	if s.limiter != nil {
		bettorOpen, err := s.store.SumPendingStake(ctx, bettorID)
		if err != nil {
			return nil, err
		}
		var operatorOpen int64
		if bettor.ParentID != "" {
			operatorOpen, err = s.store.SumPendingStakeByOperator(ctx, bettor.ParentID)
			if err != nil {
				return nil, err
			}
		}
		if err := s.limiter.Check(stake, bettorOpen, operatorOpen); err != nil {
			metrics.RiskLimitRejections.Inc()
			return nil, err
		}
	}

	w := &model.Wager{
		ID:         uuid.New().String(),
		BettorID:   bettorID,
		MarketID:   marketID,
		Mechanic:   mech,
		Prediction: prediction,
		Stake:      stake,
		Outcome:    model.OutcomePending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.PlaceWager(ctx, w); err != nil {
		return nil, err
	}

	metrics.WagersPlaced.WithLabelValues(string(mech)).Inc()
	slog.Info("wager placed",
		"wager", w.ID, "bettor", bettorID, "market", marketID,
		"mechanic", mech, "stake", stake)
	return w, nil
}

// Transfer moves funds between two principals, applying the configured
// commission or discount. Both ledger entries are written in one store
// transaction and reference each other.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount int64, kind model.TransferKind) (*TransferResult, error) {
	from, err := s.store.GetPrincipal(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetPrincipal(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalBlocked, fromID)
	}
	if to.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalBlocked, toID)
	}

	// Deposits must follow the parent chain when the receiver has one.
	if kind == model.TransferDeposit && to.ParentID != "" && to.ParentID != fromID {
		return nil, fmt.Errorf("%w: %s is not the parent of %s", ErrNotLinked, fromID, toID)
	}

	cfg, err := s.transferRates(ctx, from, to, kind)
	if err != nil {
		return nil, err
	}

	quote, err := rates.ForTransfer(from.Tier, to.Tier, kind, amount, cfg)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	fromEntry, toEntry, err := s.store.Transfer(ctx, fromID, toID, quote.Debit, quote.Credit, kind)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(string(kind), "rejected").Inc()
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues(string(kind), "ok").Inc()
	slog.Info("funds transferred",
		"from", fromID, "to", toID, "kind", kind,
		"amount", amount, "debit", quote.Debit, "credit", quote.Credit)

	return &TransferResult{
		FromEntryID: fromEntry,
		ToEntryID:   toEntry,
		Debit:       quote.Debit,
		Credit:      quote.Credit,
	}, nil
}

// transferRates looks up the basis-point rates applicable to this route.
// A missing rule means nominal amounts; any other lookup error aborts.
func (s *Service) transferRates(ctx context.Context, from, to *model.Principal, kind model.TransferKind) (rates.Config, error) {
	var cfg rates.Config
	if kind != model.TransferDeposit {
		return cfg, nil
	}

	switch {
	case from.Tier == model.TierOperator && to.Tier == model.TierRegionalOperator:
		rule, err := s.store.GetCommissionRule(ctx, to.ID, transferCategory)
		if err == nil {
			cfg.CommissionBps = rule.Bps
		} else if !errors.Is(err, store.ErrNotFound) {
			return cfg, err
		}
	case from.Tier == model.TierRegionalOperator && to.Tier == model.TierBettor:
		rule, err := s.store.GetDiscountRule(ctx, from.ID, to.ID, transferCategory)
		if err == nil {
			cfg.DiscountBps = rule.Bps
		} else if !errors.Is(err, store.ErrNotFound) {
			return cfg, err
		}
	}
	return cfg, nil
}

func validClosing(s string) bool {
	return len(s) == 2 &&
		s[0] >= '0' && s[0] <= '9' &&
		s[1] >= '0' && s[1] <= '9'
}
