// Package exposure computes real-time worst-case liability across open
// wagers. It is a monitoring view: read-only, lock-free, and tolerant of
// wagers resolving mid-scan — a wager that settles during aggregation
// simply drops out of the next read.
//
// Multipliers come from the odds resolver, evaluated fresh at query
// time, never from values cached at placement: configuration may have
// changed since the wager was placed and risk must reflect what the
// ledger would actually pay today.
package exposure

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/drawbet/settlement-engine/internal/mechanic"
	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/odds"
	"github.com/drawbet/settlement-engine/internal/store"
)

// ChoiceExposure is the aggregate for one outcome choice within a market.
// Parity wagers group by their odd/even choice; digit mechanics group by
// (mechanic, prediction), since identical predictions win together.
type ChoiceExposure struct {
	Choice          string `json:"choice"`
	WagerCount      int    `json:"wager_count"`
	TotalStake      int64  `json:"total_stake"`
	PotentialPayout int64  `json:"potential_payout"`
}

// MarketExposure is the worst-case view of one open market.
type MarketExposure struct {
	MarketID        string           `json:"market_id"`
	TotalStake      int64            `json:"total_stake"`
	WorstCasePayout int64            `json:"worst_case_payout"`
	PotentialProfit int64            `json:"potential_profit"` // totalStake - worstCase; negative means guaranteed loss on that outcome
	Choices         []ChoiceExposure `json:"choices"`
}

// BettorExposure is the sum of one bettor's potential payouts across all
// pending wagers.
type BettorExposure struct {
	BettorID        string `json:"bettor_id"`
	OperatorID      string `json:"operator_id,omitempty"`
	PendingStake    int64  `json:"pending_stake"`
	PotentialPayout int64  `json:"potential_payout"`
}

// Report is the full exposure snapshot.
type Report struct {
	PerMarket          []MarketExposure `json:"per_market"`
	PerBettor          []BettorExposure `json:"per_bettor"`
	PerBettorWorstCase int64            `json:"per_bettor_worst_case"`
	PlatformWorstCase  int64            `json:"platform_worst_case"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Aggregator scans pending wagers on open markets and reports liability.
type Aggregator struct {
	store    store.Store
	resolver *odds.Resolver
}

// NewAggregator creates an aggregator sharing the settlement ledger's
// odds resolver.
func NewAggregator(st store.Store, resolver *odds.Resolver) *Aggregator {
	return &Aggregator{store: st, resolver: resolver}
}

// Aggregate builds the exposure report. A non-empty operatorID restricts
// the scan to that regional operator's bettors.
func (a *Aggregator) Aggregate(ctx context.Context, operatorID string) (*Report, error) {
	markets, err := a.store.ListMarketsByStatus(ctx, model.MarketOpen)
	if err != nil {
		return nil, err
	}

	report := &Report{
		PerMarket:   []MarketExposure{},
		PerBettor:   []BettorExposure{},
		GeneratedAt: time.Now().UTC(),
	}

	// Parent lookups memoized across the scan; dirty reads are fine here.
	parents := make(map[string]string)
	bettors := make(map[string]*BettorExposure)

	for _, m := range markets {
		wagers, err := a.store.ListPendingWagersByMarket(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(wagers) == 0 {
			continue
		}

		choices := make(map[string]*ChoiceExposure)
		var totalStake int64

		for _, w := range wagers {
			parent, ok := parents[w.BettorID]
			if !ok {
				parent = a.lookupParent(ctx, w.BettorID)
				parents[w.BettorID] = parent
			}
			if operatorID != "" && parent != operatorID {
				continue
			}

			potential := a.potentialPayout(ctx, &w)
			totalStake += w.Stake

			key := choiceKey(&w)
			ce, ok := choices[key]
			if !ok {
				ce = &ChoiceExposure{Choice: key}
				choices[key] = ce
			}
			ce.WagerCount++
			ce.TotalStake += w.Stake
			ce.PotentialPayout += potential

			be, ok := bettors[w.BettorID]
			if !ok {
				be = &BettorExposure{BettorID: w.BettorID, OperatorID: parent}
				bettors[w.BettorID] = be
			}
			be.PendingStake += w.Stake
			be.PotentialPayout += potential
		}

		if len(choices) == 0 {
			continue // everything filtered out by scope
		}

		me := MarketExposure{MarketID: m.ID, TotalStake: totalStake}
		for _, ce := range choices {
			me.Choices = append(me.Choices, *ce)
			if ce.PotentialPayout > me.WorstCasePayout {
				me.WorstCasePayout = ce.PotentialPayout
			}
		}
		sort.Slice(me.Choices, func(i, j int) bool {
			return me.Choices[i].Choice < me.Choices[j].Choice
		})
		me.PotentialProfit = me.TotalStake - me.WorstCasePayout

		report.PerMarket = append(report.PerMarket, me)
		report.PlatformWorstCase += me.WorstCasePayout
	}

	for _, be := range bettors {
		report.PerBettor = append(report.PerBettor, *be)
		if be.PotentialPayout > report.PerBettorWorstCase {
			report.PerBettorWorstCase = be.PotentialPayout
		}
	}
	sort.Slice(report.PerBettor, func(i, j int) bool {
		return report.PerBettor[i].BettorID < report.PerBettor[j].BettorID
	})
	sort.Slice(report.PerMarket, func(i, j int) bool {
		return report.PerMarket[i].MarketID < report.PerMarket[j].MarketID
	})

	return report, nil
}

// potentialPayout resolves fresh odds for a pending wager. A wager whose
// odds cannot be resolved contributes stake but zero payout — settlement
// will surface the missing configuration as a failure; the monitor just
// flags it.
func (a *Aggregator) potentialPayout(ctx context.Context, w *model.Wager) int64 {
	mult, err := a.resolver.Resolve(ctx, w.BettorID, w.Mechanic)
	if err != nil {
		slog.Warn("exposure: odds unresolvable for pending wager",
			"wager", w.ID, "mechanic", w.Mechanic, "err", err)
		return 0
	}
	return odds.Payout(w.Stake, mult)
}

func (a *Aggregator) lookupParent(ctx context.Context, bettorID string) string {
	p, err := a.store.GetPrincipal(ctx, bettorID)
	if err != nil {
		return ""
	}
	return p.ParentID
}

// choiceKey groups wagers that win together. Parity wagers on the same
// side share one key; digit-mechanic wagers share a key only when their
// predictions are identical.
func choiceKey(w *model.Wager) string {
	if w.Mechanic == model.MechanicParity {
		if c, ok := mechanic.ParityChoice(w.Prediction); ok {
			return "parity:" + c
		}
	}
	return string(w.Mechanic) + ":" + w.Prediction
}

// Handler serves GET /api/v1/exposure with an optional ?operator= scope.
func (a *Aggregator) Handler(w http.ResponseWriter, r *http.Request) {
	report, err := a.Aggregate(r.Context(), r.URL.Query().Get("operator"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to aggregate exposure"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
