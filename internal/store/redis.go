package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drawbet/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: principals, markets, and odds rules.
// Writes go to the primary store and invalidate the cache. Wager and
// ledger reads pass through: settlement and exposure must see the
// primary's view, never a stale snapshot.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Principals ---

func (s *CachedStore) CreatePrincipal(ctx context.Context, p *model.Principal) error {
	if err := s.primary.CreatePrincipal(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, principalKey(p.ID), p)
	return nil
}

func (s *CachedStore) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	var p model.Principal
	if s.readJSON(ctx, principalKey(id), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPrincipal(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, principalKey(id), fresh)
	return fresh, nil
}

// --- Markets ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.readJSON(ctx, marketKey(id), &m) {
		return &m, nil
	}

	fresh, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListMarketsByStatus(ctx context.Context, status model.MarketStatus) ([]model.Market, error) {
	return s.primary.ListMarketsByStatus(ctx, status)
}

func (s *CachedStore) TransitionMarket(ctx context.Context, id string, from, to model.MarketStatus) error {
	if err := s.primary.TransitionMarket(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetClosingResult(ctx context.Context, id, closing string) error {
	if err := s.primary.SetClosingResult(ctx, id, closing); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

// --- Wagers (balance mutations invalidate the principal) ---

func (s *CachedStore) PlaceWager(ctx context.Context, w *model.Wager) error {
	if err := s.primary.PlaceWager(ctx, w); err != nil {
		return err
	}
	s.rdb.Del(ctx, principalKey(w.BettorID))
	return nil
}

func (s *CachedStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return s.primary.GetWager(ctx, id)
}

func (s *CachedStore) ListPendingWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error) {
	return s.primary.ListPendingWagersByMarket(ctx, marketID)
}

func (s *CachedStore) ListWagersByBettor(ctx context.Context, bettorID string) ([]model.Wager, error) {
	return s.primary.ListWagersByBettor(ctx, bettorID)
}

func (s *CachedStore) SumPendingStake(ctx context.Context, bettorID string) (int64, error) {
	return s.primary.SumPendingStake(ctx, bettorID)
}

func (s *CachedStore) SumPendingStakeByOperator(ctx context.Context, operatorID string) (int64, error) {
	return s.primary.SumPendingStakeByOperator(ctx, operatorID)
}

func (s *CachedStore) SettleWager(ctx context.Context, wagerID string, outcome model.Outcome, payout, resolvedOdds int64) (int64, error) {
	balance, err := s.primary.SettleWager(ctx, wagerID, outcome, payout, resolvedOdds)
	if err != nil {
		return 0, err
	}
	// The credited bettor's cached balance is stale; drop it. We don't
	// know the bettor ID here without a read, so look it up off the
	// settled wager.
	if w, werr := s.primary.GetWager(ctx, wagerID); werr == nil {
		s.rdb.Del(ctx, principalKey(w.BettorID))
	}
	return balance, nil
}

// --- Odds and rate rules ---

func (s *CachedStore) PutOddsRule(ctx context.Context, r *model.OddsRule) error {
	if err := s.primary.PutOddsRule(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, oddsRuleKey(r.Mechanic, r.OperatorID))
	return nil
}

func (s *CachedStore) GetOddsRule(ctx context.Context, mechanic model.Mechanic, operatorID string) (*model.OddsRule, error) {
	var r model.OddsRule
	if s.readJSON(ctx, oddsRuleKey(mechanic, operatorID), &r) {
		return &r, nil
	}

	fresh, err := s.primary.GetOddsRule(ctx, mechanic, operatorID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, oddsRuleKey(mechanic, operatorID), fresh)
	return fresh, nil
}

func (s *CachedStore) PutCommissionRule(ctx context.Context, r *model.CommissionRule) error {
	return s.primary.PutCommissionRule(ctx, r)
}

func (s *CachedStore) GetCommissionRule(ctx context.Context, operatorID, category string) (*model.CommissionRule, error) {
	return s.primary.GetCommissionRule(ctx, operatorID, category)
}

func (s *CachedStore) PutDiscountRule(ctx context.Context, r *model.DiscountRule) error {
	return s.primary.PutDiscountRule(ctx, r)
}

func (s *CachedStore) GetDiscountRule(ctx context.Context, operatorID, bettorID, category string) (*model.DiscountRule, error) {
	return s.primary.GetDiscountRule(ctx, operatorID, bettorID, category)
}

// --- Transfers and ledger ---

func (s *CachedStore) Transfer(ctx context.Context, fromID, toID string, debit, credit int64, kind model.TransferKind) (string, string, error) {
	fromEntry, toEntry, err := s.primary.Transfer(ctx, fromID, toID, debit, credit, kind)
	if err != nil {
		return "", "", err
	}
	s.rdb.Del(ctx, principalKey(fromID), principalKey(toID))
	return fromEntry, toEntry, nil
}

func (s *CachedStore) ListLedgerByPrincipal(ctx context.Context, principalID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerByPrincipal(ctx, principalID)
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func principalKey(id string) string { return fmt.Sprintf("principal:%s", id) }
func marketKey(id string) string    { return fmt.Sprintf("market:%s", id) }

func oddsRuleKey(m model.Mechanic, operatorID string) string {
	return fmt.Sprintf("odds:%s:%s", m, operatorID)
}
