package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbet/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
// A single mutex serializes every balance-affecting operation, which
// trivially satisfies the per-principal serialization contract.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*model.Principal
	markets    map[string]*model.Market
	wagers     map[string]*model.Wager
	wagerOrder []string
	oddsRules  map[string]*model.OddsRule      // key: mechanic|operator
	commRules  map[string]*model.CommissionRule // key: operator|category
	discRules  map[string]*model.DiscountRule   // key: operator|bettor|category
	ledger     []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*model.Principal),
		markets:    make(map[string]*model.Market),
		wagers:     make(map[string]*model.Wager),
		oddsRules:  make(map[string]*model.OddsRule),
		commRules:  make(map[string]*model.CommissionRule),
		discRules:  make(map[string]*model.DiscountRule),
	}
}

// --- Principals ---

func (s *MemoryStore) CreatePrincipal(_ context.Context, p *model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[p.ID]; ok {
		return fmt.Errorf("principal %s already exists", p.ID)
	}
	cp := *p
	s.principals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPrincipal(_ context.Context, id string) (*model.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, fmt.Errorf("principal %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarketsByStatus(_ context.Context, status model.MarketStatus) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var markets []model.Market
	for _, m := range s.markets {
		if m.Status == status {
			markets = append(markets, *m)
		}
	}
	return markets, nil
}

func (s *MemoryStore) TransitionMarket(_ context.Context, id string, from, to model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if m.Status != from {
		return fmt.Errorf("market %s is %s, not %s: %w", id, m.Status, from, ErrInvalidTransition)
	}
	m.Status = to
	return nil
}

func (s *MemoryStore) SetClosingResult(_ context.Context, id, closing string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if m.Status != model.MarketClosed {
		return fmt.Errorf("market %s is %s: %w", id, m.Status, ErrInvalidTransition)
	}
	if m.ClosingResult != "" && m.ClosingResult != closing {
		return fmt.Errorf("market %s already resulted %s: %w", id, m.ClosingResult, ErrInvalidTransition)
	}
	m.ClosingResult = closing
	return nil
}

// --- Wagers ---

func (s *MemoryStore) PlaceWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[w.BettorID]
	if !ok {
		return fmt.Errorf("bettor %s: %w", w.BettorID, ErrNotFound)
	}
	if p.Balance < w.Stake {
		return fmt.Errorf("stake %d exceeds balance %d: %w", w.Stake, p.Balance, ErrInsufficientFunds)
	}

	p.Balance -= w.Stake

	cp := *w
	s.wagers[w.ID] = &cp
	s.wagerOrder = append(s.wagerOrder, w.ID)

	s.ledger = append(s.ledger, model.LedgerEntry{
		ID:           uuid.New().String(),
		PrincipalID:  w.BettorID,
		Direction:    model.EntryDebit,
		Amount:       w.Stake,
		Kind:         model.EntryKindStake,
		WagerID:      w.ID,
		MarketID:     w.MarketID,
		BalanceAfter: p.Balance,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListPendingWagersByMarket(_ context.Context, marketID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, id := range s.wagerOrder {
		w := s.wagers[id]
		if w.MarketID == marketID && w.Outcome == model.OutcomePending {
			result = append(result, *w)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListWagersByBettor(_ context.Context, bettorID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, id := range s.wagerOrder {
		w := s.wagers[id]
		if w.BettorID == bettorID {
			result = append(result, *w)
		}
	}
	return result, nil
}

func (s *MemoryStore) SumPendingStake(_ context.Context, bettorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, w := range s.wagers {
		if w.BettorID == bettorID && w.Outcome == model.OutcomePending {
			total += w.Stake
		}
	}
	return total, nil
}

func (s *MemoryStore) SumPendingStakeByOperator(_ context.Context, operatorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, w := range s.wagers {
		if w.Outcome != model.OutcomePending {
			continue
		}
		p, ok := s.principals[w.BettorID]
		if ok && p.ParentID == operatorID {
			total += w.Stake
		}
	}
	return total, nil
}

func (s *MemoryStore) SettleWager(_ context.Context, wagerID string, outcome model.Outcome, payout, resolvedOdds int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[wagerID]
	if !ok {
		return 0, fmt.Errorf("wager %s: %w", wagerID, ErrNotFound)
	}
	if w.Outcome != model.OutcomePending {
		return 0, fmt.Errorf("wager %s is %s: %w", wagerID, w.Outcome, ErrAlreadySettled)
	}

	p, ok := s.principals[w.BettorID]
	if !ok {
		return 0, fmt.Errorf("bettor %s: %w", w.BettorID, ErrNotFound)
	}

	now := time.Now().UTC()
	w.Outcome = outcome
	w.Payout = payout
	w.ResolvedOdds = resolvedOdds
	w.SettledAt = &now

	if payout > 0 {
		p.Balance += payout
		s.ledger = append(s.ledger, model.LedgerEntry{
			ID:           uuid.New().String(),
			PrincipalID:  w.BettorID,
			Direction:    model.EntryCredit,
			Amount:       payout,
			Kind:         model.EntryKindPayout,
			WagerID:      w.ID,
			MarketID:     w.MarketID,
			BalanceAfter: p.Balance,
			CreatedAt:    now,
		})
	}
	w.BalanceAfter = p.Balance

	return p.Balance, nil
}

// --- Odds and rate rules ---

func oddsKey(m model.Mechanic, operatorID string) string {
	return string(m) + "|" + operatorID
}

func (s *MemoryStore) PutOddsRule(_ context.Context, r *model.OddsRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.oddsRules[oddsKey(r.Mechanic, r.OperatorID)] = &cp
	return nil
}

func (s *MemoryStore) GetOddsRule(_ context.Context, mechanic model.Mechanic, operatorID string) (*model.OddsRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.oddsRules[oddsKey(mechanic, operatorID)]
	if !ok {
		return nil, fmt.Errorf("odds rule %s/%s: %w", mechanic, operatorID, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutCommissionRule(_ context.Context, r *model.CommissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.commRules[r.OperatorID+"|"+r.Category] = &cp
	return nil
}

func (s *MemoryStore) GetCommissionRule(_ context.Context, operatorID, category string) (*model.CommissionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.commRules[operatorID+"|"+category]
	if !ok {
		return nil, fmt.Errorf("commission rule %s/%s: %w", operatorID, category, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutDiscountRule(_ context.Context, r *model.DiscountRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.discRules[strings.Join([]string{r.OperatorID, r.BettorID, r.Category}, "|")] = &cp
	return nil
}

func (s *MemoryStore) GetDiscountRule(_ context.Context, operatorID, bettorID, category string) (*model.DiscountRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Bettor-specific rule wins over the operator-wide one.
	if r, ok := s.discRules[strings.Join([]string{operatorID, bettorID, category}, "|")]; ok {
		cp := *r
		return &cp, nil
	}
	if r, ok := s.discRules[strings.Join([]string{operatorID, "", category}, "|")]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, fmt.Errorf("discount rule %s/%s/%s: %w", operatorID, bettorID, category, ErrNotFound)
}

// --- Transfers and ledger ---

func (s *MemoryStore) Transfer(_ context.Context, fromID, toID string, debit, credit int64, kind model.TransferKind) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.principals[fromID]
	if !ok {
		return "", "", fmt.Errorf("principal %s: %w", fromID, ErrNotFound)
	}
	to, ok := s.principals[toID]
	if !ok {
		return "", "", fmt.Errorf("principal %s: %w", toID, ErrNotFound)
	}

	if from.Balance < debit {
		return "", "", fmt.Errorf("debit %d exceeds balance %d: %w", debit, from.Balance, ErrInsufficientFunds)
	}

	from.Balance -= debit
	to.Balance += credit

	now := time.Now().UTC()
	fromEntryID := uuid.New().String()
	toEntryID := uuid.New().String()

	s.ledger = append(s.ledger,
		model.LedgerEntry{
			ID:            fromEntryID,
			PrincipalID:   fromID,
			CounterpartID: toEntryID,
			Direction:     model.EntryDebit,
			Amount:        debit,
			Kind:          string(kind),
			BalanceAfter:  from.Balance,
			CreatedAt:     now,
		},
		model.LedgerEntry{
			ID:            toEntryID,
			PrincipalID:   toID,
			CounterpartID: fromEntryID,
			Direction:     model.EntryCredit,
			Amount:        credit,
			Kind:          string(kind),
			BalanceAfter:  to.Balance,
			CreatedAt:     now,
		},
	)

	return fromEntryID, toEntryID, nil
}

func (s *MemoryStore) ListLedgerByPrincipal(_ context.Context, principalID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.PrincipalID == principalID {
			result = append(result, e)
		}
	}
	return result, nil
}
