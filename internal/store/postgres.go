package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drawbet/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as BIGINT minor units. Balance updates
// take a row-level FOR UPDATE lock on the principal; wager settlement
// compare-and-sets the outcome column so two concurrent settlement
// attempts cannot both credit the balance.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Principals ---

func (s *PostgresStore) CreatePrincipal(ctx context.Context, p *model.Principal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO principals (id, tier, balance, parent_id, blocked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Tier, p.Balance, p.ParentID, p.Blocked, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	var p model.Principal
	err := s.pool.QueryRow(ctx,
		`SELECT id, tier, balance, parent_id, blocked, created_at
		 FROM principals WHERE id = $1`, id).
		Scan(&p.ID, &p.Tier, &p.Balance, &p.ParentID, &p.Blocked, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("principal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get principal %s: %w", id, err)
	}
	return &p, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, name, status, opening_result, closing_result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Status, m.OpeningResult, m.ClosingResult, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, opening_result, closing_result, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Status, &m.OpeningResult, &m.ClosingResult, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarketsByStatus(ctx context.Context, status model.MarketStatus) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, opening_result, closing_result, created_at
		 FROM markets WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.Status, &m.OpeningResult,
			&m.ClosingResult, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) TransitionMarket(ctx context.Context, id string, from, to model.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("market %s is %s, not %s: %w", id, m.Status, from, ErrInvalidTransition)
	}
	return nil
}

func (s *PostgresStore) SetClosingResult(ctx context.Context, id, closing string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET closing_result = $2
		 WHERE id = $1 AND status = 'closed'
		   AND (closing_result = '' OR closing_result = $2)`,
		id, closing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("market %s cannot accept result %s: %w", id, closing, ErrInvalidTransition)
	}
	return nil
}

// --- Wagers ---

func (s *PostgresStore) PlaceWager(ctx context.Context, w *model.Wager) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM principals WHERE id = $1 FOR UPDATE`, w.BettorID).
		Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bettor %s: %w", w.BettorID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if balance < w.Stake {
		return fmt.Errorf("stake %d exceeds balance %d: %w", w.Stake, balance, ErrInsufficientFunds)
	}
	balance -= w.Stake

	if _, err := tx.Exec(ctx,
		`UPDATE principals SET balance = $2 WHERE id = $1`, w.BettorID, balance); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wagers (id, bettor_id, market_id, mechanic, prediction, stake,
		                     outcome, payout, resolved_odds, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $8)`,
		w.ID, w.BettorID, w.MarketID, w.Mechanic, w.Prediction, w.Stake,
		w.Outcome, w.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, principal_id, direction, amount, kind,
		                             wager_id, market_id, balance_after, created_at)
		 VALUES ($1, $2, 'debit', $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), w.BettorID, w.Stake, model.EntryKindStake,
		w.ID, w.MarketID, balance, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	var w model.Wager
	err := s.pool.QueryRow(ctx,
		`SELECT id, bettor_id, market_id, mechanic, prediction, stake,
		        outcome, payout, resolved_odds, balance_after, created_at, settled_at
		 FROM wagers WHERE id = $1`, id).
		Scan(&w.ID, &w.BettorID, &w.MarketID, &w.Mechanic, &w.Prediction, &w.Stake,
			&w.Outcome, &w.Payout, &w.ResolvedOdds, &w.BalanceAfter, &w.CreatedAt, &w.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wager %s: %w", id, err)
	}
	return &w, nil
}

func (s *PostgresStore) ListPendingWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bettor_id, market_id, mechanic, prediction, stake,
		        outcome, payout, resolved_odds, balance_after, created_at, settled_at
		 FROM wagers WHERE market_id = $1 AND outcome = 'pending'
		 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagers(rows)
}

func (s *PostgresStore) ListWagersByBettor(ctx context.Context, bettorID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bettor_id, market_id, mechanic, prediction, stake,
		        outcome, payout, resolved_odds, balance_after, created_at, settled_at
		 FROM wagers WHERE bettor_id = $1 ORDER BY created_at`, bettorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagers(rows)
}

func (s *PostgresStore) SumPendingStake(ctx context.Context, bettorID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(stake), 0) FROM wagers
		 WHERE bettor_id = $1 AND outcome = 'pending'`, bettorID).
		Scan(&total)
	return total, err
}

func (s *PostgresStore) SumPendingStakeByOperator(ctx context.Context, operatorID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(w.stake), 0)
		 FROM wagers w
		 JOIN principals p ON p.id = w.bettor_id
		 WHERE p.parent_id = $1 AND w.outcome = 'pending'`, operatorID).
		Scan(&total)
	return total, err
}

func (s *PostgresStore) SettleWager(ctx context.Context, wagerID string, outcome model.Outcome, payout, resolvedOdds int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// CAS out of pending. The WHERE clause is the serialization point:
	// the loser of a concurrent settlement race matches zero rows.
	var bettorID, marketID string
	err = tx.QueryRow(ctx,
		`UPDATE wagers
		 SET outcome = $2, payout = $3, resolved_odds = $4, settled_at = $5
		 WHERE id = $1 AND outcome = 'pending'
		 RETURNING bettor_id, market_id`,
		wagerID, outcome, payout, resolvedOdds, now).
		Scan(&bettorID, &marketID)
	if errors.Is(err, pgx.ErrNoRows) {
		var current model.Outcome
		if err := s.pool.QueryRow(ctx,
			`SELECT outcome FROM wagers WHERE id = $1`, wagerID).Scan(&current); err != nil {
			return 0, fmt.Errorf("wager %s: %w", wagerID, ErrNotFound)
		}
		return 0, fmt.Errorf("wager %s is %s: %w", wagerID, current, ErrAlreadySettled)
	}
	if err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM principals WHERE id = $1 FOR UPDATE`, bettorID).
		Scan(&balance); err != nil {
		return 0, err
	}

	if payout > 0 {
		balance += payout
		if _, err := tx.Exec(ctx,
			`UPDATE principals SET balance = $2 WHERE id = $1`, bettorID, balance); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, principal_id, direction, amount, kind,
			                             wager_id, market_id, balance_after, created_at)
			 VALUES ($1, $2, 'credit', $3, $4, $5, $6, $7, $8)`,
			uuid.New().String(), bettorID, payout, model.EntryKindPayout,
			wagerID, marketID, balance, now); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wagers SET balance_after = $2 WHERE id = $1`, wagerID, balance); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// --- Odds and rate rules ---

func (s *PostgresStore) PutOddsRule(ctx context.Context, r *model.OddsRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO odds_rules (mechanic, operator_id, multiplier)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (mechanic, operator_id) DO UPDATE SET multiplier = $3`,
		r.Mechanic, r.OperatorID, r.Multiplier)
	return err
}

func (s *PostgresStore) GetOddsRule(ctx context.Context, mechanic model.Mechanic, operatorID string) (*model.OddsRule, error) {
	var r model.OddsRule
	err := s.pool.QueryRow(ctx,
		`SELECT mechanic, operator_id, multiplier FROM odds_rules
		 WHERE mechanic = $1 AND operator_id = $2`, mechanic, operatorID).
		Scan(&r.Mechanic, &r.OperatorID, &r.Multiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("odds rule %s/%s: %w", mechanic, operatorID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) PutCommissionRule(ctx context.Context, r *model.CommissionRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO commission_rules (operator_id, category, bps)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (operator_id, category) DO UPDATE SET bps = $3`,
		r.OperatorID, r.Category, r.Bps)
	return err
}

func (s *PostgresStore) GetCommissionRule(ctx context.Context, operatorID, category string) (*model.CommissionRule, error) {
	var r model.CommissionRule
	err := s.pool.QueryRow(ctx,
		`SELECT operator_id, category, bps FROM commission_rules
		 WHERE operator_id = $1 AND category = $2`, operatorID, category).
		Scan(&r.OperatorID, &r.Category, &r.Bps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("commission rule %s/%s: %w", operatorID, category, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) PutDiscountRule(ctx context.Context, r *model.DiscountRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO discount_rules (operator_id, bettor_id, category, bps)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (operator_id, bettor_id, category) DO UPDATE SET bps = $4`,
		r.OperatorID, r.BettorID, r.Category, r.Bps)
	return err
}

func (s *PostgresStore) GetDiscountRule(ctx context.Context, operatorID, bettorID, category string) (*model.DiscountRule, error) {
	var r model.DiscountRule
	// Bettor-specific rule wins over the operator-wide one.
	err := s.pool.QueryRow(ctx,
		`SELECT operator_id, bettor_id, category, bps FROM discount_rules
		 WHERE operator_id = $1 AND category = $3 AND (bettor_id = $2 OR bettor_id = '')
		 ORDER BY bettor_id DESC LIMIT 1`, operatorID, bettorID, category).
		Scan(&r.OperatorID, &r.BettorID, &r.Category, &r.Bps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("discount rule %s/%s/%s: %w", operatorID, bettorID, category, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Transfers and ledger ---

func (s *PostgresStore) Transfer(ctx context.Context, fromID, toID string, debit, credit int64, kind model.TransferKind) (string, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback(ctx)

	// Lock both balance rows in a fixed order to avoid deadlock between
	// opposing concurrent transfers.
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]int64, 2)
	for _, id := range []string{first, second} {
		var bal int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM principals WHERE id = $1 FOR UPDATE`, id).Scan(&bal)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", fmt.Errorf("principal %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return "", "", err
		}
		balances[id] = bal
	}

	if balances[fromID] < debit {
		return "", "", fmt.Errorf("debit %d exceeds balance %d: %w", debit, balances[fromID], ErrInsufficientFunds)
	}

	fromBal := balances[fromID] - debit
	toBal := balances[toID] + credit

	if _, err := tx.Exec(ctx,
		`UPDATE principals SET balance = $2 WHERE id = $1`, fromID, fromBal); err != nil {
		return "", "", err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE principals SET balance = $2 WHERE id = $1`, toID, toBal); err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	fromEntryID := uuid.New().String()
	toEntryID := uuid.New().String()

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, principal_id, counterpart_id, direction,
		                             amount, kind, balance_after, created_at)
		 VALUES ($1, $2, $3, 'debit', $4, $5, $6, $7),
		        ($3, $8, $1, 'credit', $9, $5, $10, $7)`,
		fromEntryID, fromID, toEntryID, debit, string(kind), fromBal, now,
		toID, credit, toBal); err != nil {
		return "", "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", err
	}
	return fromEntryID, toEntryID, nil
}

func (s *PostgresStore) ListLedgerByPrincipal(ctx context.Context, principalID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, principal_id, counterpart_id, direction, amount, kind,
		        wager_id, market_id, balance_after, created_at
		 FROM ledger_entries WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.CounterpartID, &e.Direction,
			&e.Amount, &e.Kind, &e.WagerID, &e.MarketID, &e.BalanceAfter,
			&e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		if err := rows.Scan(&w.ID, &w.BettorID, &w.MarketID, &w.Mechanic, &w.Prediction,
			&w.Stake, &w.Outcome, &w.Payout, &w.ResolvedOdds, &w.BalanceAfter,
			&w.CreatedAt, &w.SettledAt); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}
