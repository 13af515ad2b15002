package settlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/drawbet/settlement-engine/internal/model"
	"github.com/drawbet/settlement-engine/internal/odds"
	"github.com/drawbet/settlement-engine/internal/risk"
	"github.com/drawbet/settlement-engine/internal/store"
)

// --- Request types ---

// CreatePrincipalRequest is the JSON body for principal creation.
type CreatePrincipalRequest struct {
	ID       string     `json:"id"` // optional; generated when empty
	Tier     model.Tier `json:"tier"`
	ParentID string     `json:"parent_id"`
	Balance  int64      `json:"balance"`
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Name string `json:"name"`
}

// SettleMarketRequest is the JSON body for POST /markets/{id}/settle.
type SettleMarketRequest struct {
	ClosingResult string `json:"closing_result"`
}

// PlaceWagerRequest is the JSON body for POST /wagers.
type PlaceWagerRequest struct {
	BettorID   string         `json:"bettor_id"`
	MarketID   string         `json:"market_id"`
	Mechanic   model.Mechanic `json:"mechanic"`
	Prediction string         `json:"prediction"`
	Stake      int64          `json:"stake"`
}

// TransferRequest is the JSON body for POST /transfers.
type TransferRequest struct {
	FromID string             `json:"from_id"`
	ToID   string             `json:"to_id"`
	Amount int64              `json:"amount"`
	Kind   model.TransferKind `json:"kind"`
}

// OddsRuleRequest is the JSON body for POST /odds-rules. The multiplier
// is a decimal string ("9.5") converted to the fixed-point form.
type OddsRuleRequest struct {
	Mechanic   model.Mechanic `json:"mechanic"`
	OperatorID string         `json:"operator_id"`
	Multiplier string         `json:"multiplier"`
}

// RateRuleRequest is the JSON body for commission/discount rules.
type RateRuleRequest struct {
	OperatorID string `json:"operator_id"`
	BettorID   string `json:"bettor_id"` // discount rules only
	Category   string `json:"category"`
	Bps        int64  `json:"bps"`
}

// --- Handlers ---

// CreatePrincipal handles POST /api/v1/principals.
func (s *Service) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req CreatePrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Tier.Valid() {
		writeError(w, "tier must be operator, regional-operator, or bettor", http.StatusBadRequest)
		return
	}
	if req.Balance < 0 {
		writeError(w, "balance must not be negative", http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := &model.Principal{
		ID:        id,
		Tier:      req.Tier,
		ParentID:  req.ParentID,
		Balance:   req.Balance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePrincipal(r.Context(), p); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// CreateMarket handles POST /api/v1/markets. Markets start waiting.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	m := &model.Market{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    model.MarketWaiting,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMarket(r.Context(), m); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// OpenMarket handles POST /api/v1/markets/{marketID}/open.
func (s *Service) OpenMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, model.MarketWaiting, model.MarketOpen)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, model.MarketOpen, model.MarketClosed)
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request, from, to model.MarketStatus) {
	id := chi.URLParam(r, "marketID")
	if err := s.store.TransitionMarket(r.Context(), id, from, to); err != nil {
		writeStoreError(w, err)
		return
	}
	m, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Settle handles POST /api/v1/markets/{marketID}/settle.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	report, err := s.SettleMarket(r.Context(), chi.URLParam(r, "marketID"), req.ClosingResult)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidClosingResult):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrInvalidMarketState):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PlaceWagerHandler handles POST /api/v1/wagers.
func (s *Service) PlaceWagerHandler(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wager, err := s.PlaceWager(r.Context(), req.BettorID, req.MarketID,
		req.Mechanic, req.Prediction, req.Stake)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStake), errors.Is(err, ErrInvalidPrediction):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrInvalidMarketState), errors.Is(err, ErrPrincipalBlocked),
			errors.Is(err, store.ErrInsufficientFunds),
			errors.Is(err, risk.ErrBettorLimitExceeded),
			errors.Is(err, risk.ErrOperatorLimitExceeded):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

// TransferHandler handles POST /api/v1/transfers.
func (s *Service) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Transfer(r.Context(), req.FromID, req.ToID, req.Amount, req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, store.ErrInsufficientFunds),
			errors.Is(err, ErrPrincipalBlocked), errors.Is(err, ErrNotLinked):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResolveOdds handles GET /api/v1/odds/{bettorID}/{mechanic}.
func (s *Service) ResolveOdds(w http.ResponseWriter, r *http.Request) {
	bettorID := chi.URLParam(r, "bettorID")
	mech := model.Mechanic(chi.URLParam(r, "mechanic"))

	mult, err := s.resolver.Resolve(r.Context(), bettorID, mech)
	if err != nil {
		switch {
		case errors.Is(err, odds.ErrConfigurationMissing):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bettor_id":  bettorID,
		"mechanic":   mech,
		"multiplier": int64(mult),
		"nominal":    mult.String(),
	})
}

// GetLedger handles GET /api/v1/principals/{principalID}/ledger.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLedgerByPrincipal(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PutOddsRule handles POST /api/v1/odds-rules.
func (s *Service) PutOddsRule(w http.ResponseWriter, r *http.Request) {
	var req OddsRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Mechanic.Valid() {
		writeError(w, "unknown mechanic", http.StatusBadRequest)
		return
	}

	mult, err := odds.ParseMultiplier(req.Multiplier)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule := &model.OddsRule{
		Mechanic:   req.Mechanic,
		OperatorID: req.OperatorID,
		Multiplier: int64(mult),
	}
	if err := s.store.PutOddsRule(r.Context(), rule); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// PutCommissionRule handles POST /api/v1/commission-rules.
func (s *Service) PutCommissionRule(w http.ResponseWriter, r *http.Request) {
	var req RateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bps < 0 || req.Bps > 10000 {
		writeError(w, "bps must be between 0 and 10000", http.StatusBadRequest)
		return
	}

	rule := &model.CommissionRule{
		OperatorID: req.OperatorID,
		Category:   req.Category,
		Bps:        req.Bps,
	}
	if err := s.store.PutCommissionRule(r.Context(), rule); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// PutDiscountRule handles POST /api/v1/discount-rules.
func (s *Service) PutDiscountRule(w http.ResponseWriter, r *http.Request) {
	var req RateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bps < 0 || req.Bps > 10000 {
		writeError(w, "bps must be between 0 and 10000", http.StatusBadRequest)
		return
	}

	rule := &model.DiscountRule{
		OperatorID: req.OperatorID,
		BettorID:   req.BettorID,
		Category:   req.Category,
		Bps:        req.Bps,
	}
	if err := s.store.PutDiscountRule(r.Context(), rule); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
