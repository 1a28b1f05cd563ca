package pool

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/fixed"
	"github.com/cadian99/termpool/internal/model"
	"github.com/cadian99/termpool/internal/store"
)

// Service exposes the settlement engine over HTTP. Mutating routes require
// the settlement capability in the X-Settlement-Key header; reads do not.
type Service struct {
	engine *Engine
}

// NewService creates the HTTP layer over an engine.
func NewService(engine *Engine) *Service {
	return &Service{engine: engine}
}

// Routes mounts the service's routes on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/pools", func(r chi.Router) {
		r.Get("/", s.ListPools)
		r.Route("/{maturity}", func(r chi.Router) {
			r.Get("/", s.GetPool)
			r.Get("/history", s.GetHistory)
			r.Get("/quote", s.GetQuote)
			r.Post("/deposit", s.Deposit)
			r.Post("/borrow", s.Borrow)
			r.Post("/repay", s.Repay)
			r.Post("/withdraw", s.Withdraw)
		})
	})
	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/", s.GetAccount)
		r.Get("/history", s.GetAccountHistory)
	})
}

// Deposit handles POST /api/v1/pools/{maturity}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	req.Maturity = maturity

	result, err := s.engine.Deposit(r.Context(), capabilityFrom(r), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Borrow handles POST /api/v1/pools/{maturity}/borrow
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if req.Receiver == "" {
		req.Receiver = req.Account
	}
	req.Maturity = maturity

	result, err := s.engine.Borrow(r.Context(), capabilityFrom(r), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Repay handles POST /api/v1/pools/{maturity}/repay
func (s *Service) Repay(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	var req RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Borrower == "" {
		writeError(w, "borrower is required", http.StatusBadRequest)
		return
	}
	if req.Payer == "" {
		req.Payer = req.Borrower
	}
	req.Maturity = maturity

	result, err := s.engine.Repay(r.Context(), capabilityFrom(r), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Withdraw handles POST /api/v1/pools/{maturity}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	req.Maturity = maturity

	result, err := s.engine.Withdraw(r.Context(), capabilityFrom(r), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Pools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.MaturityPool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{maturity}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	p, err := s.engine.Pool(r.Context(), maturity)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetHistory handles GET /api/v1/pools/{maturity}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	entries, err := s.engine.History(r.Context(), maturity)
	if err != nil {
		writeError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.SettlementEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetQuote handles GET /api/v1/pools/{maturity}/quote?amount=<decimal>
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	maturity, ok := maturityParam(w, r)
	if !ok {
		return
	}

	amount := decimal.Zero
	if raw := r.URL.Query().Get("amount"); raw != "" {
		var err error
		amount, err = decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			writeError(w, "invalid amount", http.StatusBadRequest)
			return
		}
	}

	quote, err := s.engine.Quote(r.Context(), maturity, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetAccount handles GET /api/v1/accounts/{account}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	snap, err := s.engine.Account(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	if snap.Positions == nil {
		snap.Positions = []model.FixedPosition{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetAccountHistory handles GET /api/v1/accounts/{account}/history
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	entries, err := s.engine.store.SettlementsByAccount(r.Context(), account)
	if err != nil {
		writeError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.SettlementEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func capabilityFrom(r *http.Request) Capability {
	return Capability(r.Header.Get("X-Settlement-Key"))
}

func maturityParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	maturity, err := strconv.ParseInt(chi.URLParam(r, "maturity"), 10, 64)
	if err != nil || maturity <= 0 {
		writeError(w, "invalid maturity", http.StatusBadRequest)
		return 0, false
	}
	return maturity, true
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fixed.ErrInvalidMaturity), errors.Is(err, fixed.ErrZeroAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrCallerNotAuthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, fixed.ErrNoPosition),
		errors.Is(err, store.ErrPoolNotFound),
		errors.Is(err, store.ErrPositionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrTooMuchSlippage), errors.Is(err, ErrInsufficientProtocolLiquidity):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
