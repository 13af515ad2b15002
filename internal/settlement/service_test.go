package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/odds"
	"github.com/drawbet/settlement-engine/internal/risk"
	"github.com/drawbet/settlement-engine/internal/store"
)

func newTestService(t *testing.T, limiter *risk.ExposureLimiter) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, r := range []model.OddsRule{
		{Mechanic: model.MechanicExactPair, Multiplier: 900},
		{Mechanic: model.MechanicPositional, Multiplier: 950},
		{Mechanic: model.MechanicCrossing, Multiplier: 450},
		{Mechanic: model.MechanicParity, Multiplier: 200},
	} {
		rule := r
		if err := st.PutOddsRule(ctx, &rule); err != nil {
			t.Fatalf("put odds rule: %v", err)
		}
	}
	return NewService(st, odds.NewResolver(st), limiter, nil, nil), st
}

func addPrincipal(t *testing.T, st *store.MemoryStore, id string, tier model.Tier, parent string, balance int64) {
	t.Helper()
	err := st.CreatePrincipal(context.Background(), &model.Principal{
		ID: id, Tier: tier, ParentID: parent, Balance: balance,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create principal %s: %v", id, err)
	}
}

func addMarket(t *testing.T, st *store.MemoryStore, id string, status model.MarketStatus) {
	t.Helper()
	err := st.CreateMarket(context.Background(), &model.Market{
		ID: id, Name: "draw " + id, Status: status, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create market %s: %v", id, err)
	}
}

func mustPlace(t *testing.T, svc *Service, bettorID, marketID string, mech model.Mechanic, prediction string, stake int64) *model.Wager {
	t.Helper()
	w, err := svc.PlaceWager(context.Background(), bettorID, marketID, mech, prediction, stake)
	if err != nil {
		t.Fatalf("place wager: %v", err)
	}
	return w
}

func closeMarket(t *testing.T, st *store.MemoryStore, id string) {
	t.Helper()
	if err := st.TransitionMarket(context.Background(), id, model.MarketOpen, model.MarketClosed); err != nil {
		t.Fatalf("close market: %v", err)
	}
}

func balance(t *testing.T, st *store.MemoryStore, id string) int64 {
	t.Helper()
	p, err := st.GetPrincipal(context.Background(), id)
	if err != nil {
		t.Fatalf("get principal %s: %v", id, err)
	}
	return p.Balance
}

func TestSettleMarket_CreditsWinnersAndResults(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addPrincipal(t, st, "bob", model.TierBettor, "", 1000)
	addMarket(t, st, "m1", model.MarketOpen)

	win := mustPlace(t, svc, "alice", "m1", model.MechanicExactPair, "42", 100)
	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "even", 50)
	lose := mustPlace(t, svc, "bob", "m1", model.MechanicExactPair, "24", 200)
	closeMarket(t, st, "m1")

	report, err := svc.SettleMarket(ctx, "m1", "42")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if report.SettledCount != 3 {
		t.Fatalf("settled count = %d, want 3", report.SettledCount)
	}
	// 100 * 9.00 + 50 * 2.00
	if report.CreditedTotal != 1000 {
		t.Fatalf("credited total = %d, want 1000", report.CreditedTotal)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", report.Failures)
	}

	// alice: 1000 - 150 staked + 900 + 100 payouts
	if got := balance(t, st, "alice"); got != 1850 {
		t.Fatalf("alice balance = %d, want 1850", got)
	}
	// bob: 1000 - 200 staked, nothing back
	if got := balance(t, st, "bob"); got != 800 {
		t.Fatalf("bob balance = %d, want 800", got)
	}

	got, err := st.GetWager(ctx, win.ID)
	if err != nil {
		t.Fatalf("get wager: %v", err)
	}
	if got.Outcome != model.OutcomeWin || got.Payout != 900 || got.ResolvedOdds != 900 {
		t.Fatalf("winning wager = %s payout %d odds %d", got.Outcome, got.Payout, got.ResolvedOdds)
	}
	if got.SettledAt == nil {
		t.Fatal("winning wager has no settled_at")
	}

	got, err = st.GetWager(ctx, lose.ID)
	if err != nil {
		t.Fatalf("get wager: %v", err)
	}
	if got.Outcome != model.OutcomeLoss || got.Payout != 0 {
		t.Fatalf("losing wager = %s payout %d", got.Outcome, got.Payout)
	}

	m, err := st.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.Status != model.MarketResulted || m.ClosingResult != "42" {
		t.Fatalf("market = %s result %q", m.Status, m.ClosingResult)
	}
}

func TestSettleMarket_ReplayIsIdempotent(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addMarket(t, st, "m1", model.MarketOpen)
	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "odd", 100)
	closeMarket(t, st, "m1")

	if _, err := svc.SettleMarket(ctx, "m1", "17"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	after := balance(t, st, "alice")

	report, err := svc.SettleMarket(ctx, "m1", "17")
	if err != nil {
		t.Fatalf("replay settle: %v", err)
	}
	if report.SettledCount != 0 || report.CreditedTotal != 0 {
		t.Fatalf("replay settled %d credited %d, want 0/0", report.SettledCount, report.CreditedTotal)
	}
	if got := balance(t, st, "alice"); got != after {
		t.Fatalf("balance changed on replay: %d != %d", got, after)
	}
}

func TestSettleMarket_ReplayResultMismatch(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addMarket(t, st, "m1", model.MarketOpen)
	closeMarket(t, st, "m1")
	if _, err := svc.SettleMarket(ctx, "m1", "42"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	_, err := svc.SettleMarket(ctx, "m1", "43")
	if !errors.Is(err, ErrInvalidMarketState) {
		t.Fatalf("err = %v, want ErrInvalidMarketState", err)
	}
}

func TestSettleMarket_RejectsNonClosedMarket(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addMarket(t, st, "open", model.MarketOpen)
	addMarket(t, st, "waiting", model.MarketWaiting)

	for _, id := range []string{"open", "waiting"} {
		if _, err := svc.SettleMarket(ctx, id, "42"); !errors.Is(err, ErrInvalidMarketState) {
			t.Errorf("market %s: err = %v, want ErrInvalidMarketState", id, err)
		}
	}
}

func TestSettleMarket_RejectsMalformedClosingResult(t *testing.T) {
	svc, st := newTestService(t, nil)
	addMarket(t, st, "m1", model.MarketOpen)
	closeMarket(t, st, "m1")

	for _, bad := range []string{"", "4", "423", "4x"} {
		if _, err := svc.SettleMarket(context.Background(), "m1", bad); !errors.Is(err, ErrInvalidClosingResult) {
			t.Errorf("closing %q: err = %v, want ErrInvalidClosingResult", bad, err)
		}
	}
}

func TestSettleMarket_MissingOddsCollectedAndRetryable(t *testing.T) {
	ctx := context.Background()

	// Fresh store configured with parity odds only: the crossing wager
	// has no rule to resolve.
	st2 := store.NewMemoryStore()
	if err := st2.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicParity, Multiplier: 200}); err != nil {
		t.Fatalf("put odds rule: %v", err)
	}
	svc := NewService(st2, odds.NewResolver(st2), nil, nil, nil)

	addPrincipal(t, st2, "alice", model.TierBettor, "", 1000)
	addMarket(t, st2, "m1", model.MarketOpen)
	w := mustPlace(t, svc, "alice", "m1", model.MechanicCrossing, "1,2", 100)
	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "even", 100)
	closeMarket(t, st2, "m1")

	report, err := svc.SettleMarket(ctx, "m1", "12")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].WagerID != w.ID {
		t.Fatalf("failures = %v, want one for %s", report.Failures, w.ID)
	}
	if report.SettledCount != 1 {
		t.Fatalf("settled count = %d, want 1 (parity win unaffected)", report.SettledCount)
	}

	m, _ := st2.GetMarket(ctx, "m1")
	if m.Status != model.MarketClosed {
		t.Fatalf("market = %s, want closed while failures remain", m.Status)
	}

	// Operator fixes the configuration; the retry completes the batch.
	if err := st2.PutOddsRule(ctx, &model.OddsRule{Mechanic: model.MechanicCrossing, Multiplier: 450}); err != nil {
		t.Fatalf("put odds rule: %v", err)
	}
	report, err = svc.SettleMarket(ctx, "m1", "12")
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if len(report.Failures) != 0 || report.SettledCount != 1 {
		t.Fatalf("retry: failures %v settled %d", report.Failures, report.SettledCount)
	}
	// 1000 - 200 staked + 200 parity + 450 crossing
	if got := balance(t, st2, "alice"); got != 1450 {
		t.Fatalf("alice balance = %d, want 1450", got)
	}
	m, _ = st2.GetMarket(ctx, "m1")
	if m.Status != model.MarketResulted {
		t.Fatalf("market = %s, want resulted after retry", m.Status)
	}
}

func TestSettleMarket_BalanceAfterChain(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addMarket(t, st, "m1", model.MarketOpen)
	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "even", 100)
	mustPlace(t, svc, "alice", "m1", model.MechanicExactPair, "48", 100)
	closeMarket(t, st, "m1")

	if _, err := svc.SettleMarket(ctx, "m1", "48"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	entries, err := st.ListLedgerByPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}

	running := int64(1000)
	for _, e := range entries {
		switch e.Direction {
		case model.EntryDebit:
			running -= e.Amount
		case model.EntryCredit:
			running += e.Amount
		}
		if e.BalanceAfter != running {
			t.Fatalf("entry %s balance_after = %d, want %d", e.ID, e.BalanceAfter, running)
		}
	}
	if got := balance(t, st, "alice"); got != running {
		t.Fatalf("final balance %d does not match chain %d", got, running)
	}
}

func TestPlaceWager_DebitsStake(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "alice", model.TierBettor, "", 500)
	addMarket(t, st, "m1", model.MarketOpen)

	w := mustPlace(t, svc, "alice", "m1", model.MechanicExactPair, "42", 150)
	if got := balance(t, st, "alice"); got != 350 {
		t.Fatalf("balance = %d, want 350", got)
	}

	entries, err := st.ListLedgerByPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != model.EntryKindStake || e.Direction != model.EntryDebit ||
		e.Amount != 150 || e.WagerID != w.ID || e.BalanceAfter != 350 {
		t.Fatalf("stake entry = %+v", e)
	}
}

func TestPlaceWager_InsufficientFunds(t *testing.T) {
	svc, st := newTestService(t, nil)

	addPrincipal(t, st, "alice", model.TierBettor, "", 100)
	addMarket(t, st, "m1", model.MarketOpen)

	_, err := svc.PlaceWager(context.Background(), "alice", "m1", model.MechanicExactPair, "42", 101)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := balance(t, st, "alice"); got != 100 {
		t.Fatalf("balance changed on rejected placement: %d", got)
	}
}

func TestPlaceWager_MarketNotOpen(t *testing.T) {
	svc, st := newTestService(t, nil)

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addMarket(t, st, "closed", model.MarketClosed)

	_, err := svc.PlaceWager(context.Background(), "alice", "closed", model.MechanicParity, "odd", 100)
	if !errors.Is(err, ErrInvalidMarketState) {
		t.Fatalf("err = %v, want ErrInvalidMarketState", err)
	}
}

func TestPlaceWager_RejectsInvalidPrediction(t *testing.T) {
	svc, st := newTestService(t, nil)

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addMarket(t, st, "m1", model.MarketOpen)
	ctx := context.Background()

	cases := []struct {
		mech       model.Mechanic
		prediction string
	}{
		{model.MechanicExactPair, "4"},
		{model.MechanicExactPair, "4x"},
		{model.MechanicPositional, "third:7"},
		{model.MechanicCrossing, "1,1"},
		{model.MechanicParity, "sideways"},
		{model.Mechanic("roulette"), "7"},
	}
	for _, tc := range cases {
		_, err := svc.PlaceWager(ctx, "alice", "m1", tc.mech, tc.prediction, 100)
		if !errors.Is(err, ErrInvalidPrediction) {
			t.Errorf("%s %q: err = %v, want ErrInvalidPrediction", tc.mech, tc.prediction, err)
		}
	}
	if got := balance(t, st, "alice"); got != 1000 {
		t.Fatalf("balance changed on rejected placements: %d", got)
	}
}

func TestPlaceWager_BlockedBettor(t *testing.T) {
	svc, st := newTestService(t, nil)

	err := st.CreatePrincipal(context.Background(), &model.Principal{
		ID: "alice", Tier: model.TierBettor, Balance: 1000, Blocked: true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create principal: %v", err)
	}
	addMarket(t, st, "m1", model.MarketOpen)

	_, err = svc.PlaceWager(context.Background(), "alice", "m1", model.MechanicParity, "odd", 100)
	if !errors.Is(err, ErrPrincipalBlocked) {
		t.Fatalf("err = %v, want ErrPrincipalBlocked", err)
	}
}

func TestPlaceWager_RiskLimit(t *testing.T) {
	svc, st := newTestService(t, &risk.ExposureLimiter{MaxPerBettor: 250})

	addPrincipal(t, st, "alice", model.TierBettor, "", 1000)
	addMarket(t, st, "m1", model.MarketOpen)

	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "odd", 200)
	_, err := svc.PlaceWager(context.Background(), "alice", "m1", model.MechanicParity, "even", 100)
	if !errors.Is(err, risk.ErrBettorLimitExceeded) {
		t.Fatalf("err = %v, want ErrBettorLimitExceeded", err)
	}
	// Exactly at the limit is still allowed.
	mustPlace(t, svc, "alice", "m1", model.MechanicParity, "even", 50)
}

func TestTransfer_DepositCommission(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "op", model.TierOperator, "", 10000)
	addPrincipal(t, st, "regional", model.TierRegionalOperator, "op", 0)
	err := st.PutCommissionRule(ctx, &model.CommissionRule{
		OperatorID: "regional", Category: "deposit", Bps: 1000,
	})
	if err != nil {
		t.Fatalf("put commission rule: %v", err)
	}

	res, err := svc.Transfer(ctx, "op", "regional", 1000, model.TransferDeposit)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Debit != 100 || res.Credit != 1000 {
		t.Fatalf("debit %d credit %d, want 100/1000", res.Debit, res.Credit)
	}
	if got := balance(t, st, "op"); got != 9900 {
		t.Fatalf("operator balance = %d, want 9900", got)
	}
	if got := balance(t, st, "regional"); got != 1000 {
		t.Fatalf("regional balance = %d, want 1000", got)
	}
}

func TestTransfer_DepositDiscount(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "regional", model.TierRegionalOperator, "", 10000)
	addPrincipal(t, st, "alice", model.TierBettor, "regional", 0)
	err := st.PutDiscountRule(ctx, &model.DiscountRule{
		OperatorID: "regional", Category: "deposit", Bps: 500,
	})
	if err != nil {
		t.Fatalf("put discount rule: %v", err)
	}

	res, err := svc.Transfer(ctx, "regional", "alice", 1000, model.TransferDeposit)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Debit != 1050 || res.Credit != 1050 {
		t.Fatalf("debit %d credit %d, want 1050/1050", res.Debit, res.Credit)
	}
	if got := balance(t, st, "alice"); got != 1050 {
		t.Fatalf("alice balance = %d, want 1050", got)
	}
}

func TestTransfer_NoRuleNominal(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "op", model.TierOperator, "", 5000)
	addPrincipal(t, st, "regional", model.TierRegionalOperator, "op", 0)

	res, err := svc.Transfer(ctx, "op", "regional", 1000, model.TransferDeposit)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Debit != 1000 || res.Credit != 1000 {
		t.Fatalf("debit %d credit %d, want nominal 1000/1000", res.Debit, res.Credit)
	}
}

func TestTransfer_WithdrawalIgnoresRates(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "regional", model.TierRegionalOperator, "", 0)
	addPrincipal(t, st, "alice", model.TierBettor, "regional", 2000)
	err := st.PutDiscountRule(ctx, &model.DiscountRule{
		OperatorID: "regional", Category: "deposit", Bps: 500,
	})
	if err != nil {
		t.Fatalf("put discount rule: %v", err)
	}

	res, err := svc.Transfer(ctx, "alice", "regional", 500, model.TransferWithdrawal)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Debit != 500 || res.Credit != 500 {
		t.Fatalf("debit %d credit %d, want nominal 500/500", res.Debit, res.Credit)
	}
}

func TestTransfer_InsufficientFundsNoSideEffects(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "op", model.TierOperator, "", 50)
	addPrincipal(t, st, "regional", model.TierRegionalOperator, "op", 0)

	_, err := svc.Transfer(ctx, "op", "regional", 1000, model.TransferDeposit)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := balance(t, st, "op"); got != 50 {
		t.Fatalf("operator balance changed: %d", got)
	}
	entries, _ := st.ListLedgerByPrincipal(ctx, "op")
	if len(entries) != 0 {
		t.Fatalf("ledger written on rejected transfer: %v", entries)
	}
}

func TestTransfer_DepositMustFollowParentChain(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "op-1", model.TierOperator, "", 5000)
	addPrincipal(t, st, "op-2", model.TierOperator, "", 5000)
	addPrincipal(t, st, "regional", model.TierRegionalOperator, "op-1", 0)

	_, err := svc.Transfer(ctx, "op-2", "regional", 1000, model.TransferDeposit)
	if !errors.Is(err, ErrNotLinked) {
		t.Fatalf("err = %v, want ErrNotLinked", err)
	}
}

func TestTransfer_EntriesCrossReference(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	addPrincipal(t, st, "op", model.TierOperator, "", 5000)
	addPrincipal(t, st, "regional", model.TierRegionalOperator, "op", 0)

	res, err := svc.Transfer(ctx, "op", "regional", 1000, model.TransferDeposit)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	fromEntries, _ := st.ListLedgerByPrincipal(ctx, "op")
	toEntries, _ := st.ListLedgerByPrincipal(ctx, "regional")
	if len(fromEntries) != 1 || len(toEntries) != 1 {
		t.Fatalf("entries = %d/%d, want 1/1", len(fromEntries), len(toEntries))
	}
	if fromEntries[0].ID != res.FromEntryID || toEntries[0].ID != res.ToEntryID {
		t.Fatal("entry IDs do not match transfer result")
	}
	if fromEntries[0].CounterpartID != toEntries[0].ID ||
		toEntries[0].CounterpartID != fromEntries[0].ID {
		t.Fatal("ledger entries do not reference each other")
	}
}
