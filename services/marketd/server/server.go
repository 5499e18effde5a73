// Package server exposes the market engine over HTTP for development and
// operations tooling: read endpoints for reserves and positions,
// transactional endpoints for the user operations, and an authenticated
// admin surface for setting the treasury, steering prices, funding accounts
// from the development faucet and pausing flows. Reserves are listed from
// the genesis document by Build, not over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veralend/core/types"
	"veralend/native/common"
	"veralend/native/market"
)

// Server wires the engine into an HTTP API.
type Server struct {
	engine  *market.Engine
	ledger  *MemoryLedger
	sources map[types.Address]*FixedSource
	logger  *slog.Logger
	auth    *Authenticator
}

// New constructs a server. The ledger and sources may be nil when the
// deployment wires external implementations; the faucet and price admin
// endpoints then reject requests.
func New(engine *market.Engine, ledger *MemoryLedger, sources map[types.Address]*FixedSource, logger *slog.Logger, auth *Authenticator) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if auth == nil {
		auth = NewAuthenticator("")
	}
	return &Server{
		engine:  engine,
		ledger:  ledger,
		sources: sources,
		logger:  logger,
		auth:    auth,
	}
}

// Router assembles the HTTP handler with logging, request-id and
// rate-limit middleware.
func (s *Server) Router(perSecond float64, burst int) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	if perSecond > 0 {
		r.Use(newRateLimiter(perSecond, burst).middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/reserves", s.handleListReserves)
		r.Get("/reserves/{token}", s.handleGetReserve)
		r.Get("/positions/{user}", s.handleGetPosition)
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/collateral", s.handleCollateral)
		r.Post("/liquidate", s.handleLiquidate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/treasury", s.handleSetTreasury)
		r.Post("/pause", s.handleSetPaused)
		r.Post("/price", s.handleSetPrice)
		r.Post("/fund", s.handleFund)
	})

	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authenticate(r); err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type reserveResponse struct {
	Token                string `json:"token"`
	ZToken               string `json:"z_token"`
	ZTokenSymbol         string `json:"z_token_symbol"`
	Decimals             uint8  `json:"decimals"`
	CollateralFactor     string `json:"collateral_factor"`
	BorrowFactor         string `json:"borrow_factor"`
	ReserveFactor        string `json:"reserve_factor"`
	FlashLoanFee         string `json:"flash_loan_fee"`
	LendingAccumulator   string `json:"lending_accumulator"`
	DebtAccumulator      string `json:"debt_accumulator"`
	CurrentLendingRate   string `json:"current_lending_rate"`
	CurrentBorrowingRate string `json:"current_borrowing_rate"`
	RawTotalDebt         string `json:"raw_total_debt"`
	LastUpdate           uint64 `json:"last_update"`
}

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.ReserveTokens()
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	list := make([]string, 0, len(tokens))
	for _, token := range tokens {
		list = append(list, token.String())
	}
	s.respond(w, http.StatusOK, map[string]any{"reserves": list})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	token, ok := s.pathAddress(w, r, "token")
	if !ok {
		return
	}
	reserve, err := s.engine.ReserveSnapshot(token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	lending, err := s.engine.LendingAccumulator(token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	debt, err := s.engine.DebtAccumulator(token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, reserveResponse{
		Token:                reserve.Token.String(),
		ZToken:               reserve.ZToken.String(),
		ZTokenSymbol:         reserve.ZTokenSymbol,
		Decimals:             reserve.Decimals,
		CollateralFactor:     reserve.CollateralFactor.Dec(),
		BorrowFactor:         reserve.BorrowFactor.Dec(),
		ReserveFactor:        reserve.ReserveFactor.Dec(),
		FlashLoanFee:         reserve.FlashLoanFee.Dec(),
		LendingAccumulator:   lending.Dec(),
		DebtAccumulator:      debt.Dec(),
		CurrentLendingRate:   reserve.CurrentLendingRate.Dec(),
		CurrentBorrowingRate: reserve.CurrentBorrowingRate.Dec(),
		RawTotalDebt:         reserve.RawTotalDebt.Dec(),
		LastUpdate:           reserve.LastUpdate,
	})
}

type positionEntry struct {
	Token             string `json:"token"`
	ShareBalance      string `json:"share_balance"`
	Debt              string `json:"debt"`
	CollateralEnabled bool   `json:"collateral_enabled"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathAddress(w, r, "user")
	if !ok {
		return
	}
	collateral, required, err := s.engine.UserPosition(r.Context(), user)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	tokens, err := s.engine.ReserveTokens()
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	entries := make([]positionEntry, 0, len(tokens))
	for _, token := range tokens {
		z, err := s.engine.ZToken(token)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		shares, err := z.BalanceOf(user)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		debt, err := s.engine.UserDebt(user, token)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		enabled, err := s.engine.CollateralEnabled(user, token)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		if shares.IsZero() && debt.IsZero() && !enabled {
			continue
		}
		entries = append(entries, positionEntry{
			Token:             token.String(),
			ShareBalance:      shares.Dec(),
			Debt:              debt.Dec(),
			CollateralEnabled: enabled,
		})
	}
	s.respond(w, http.StatusOK, map[string]any{
		"collateral_value": collateral.Dec(),
		"required_value":   required.Dec(),
		"solvent":          !required.Gt(collateral),
		"reserves":         entries,
	})
}

type txRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	All    bool   `json:"all,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, token, amount, ok := s.txParams(w, req, false)
	if !ok {
		return
	}
	if err := s.engine.Deposit(r.Context(), caller, token, amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, token, amount, ok := s.txParams(w, req, req.All)
	if !ok {
		return
	}
	var err error
	if req.All {
		err = s.engine.WithdrawAll(r.Context(), caller, token)
	} else {
		err = s.engine.Withdraw(r.Context(), caller, token, amount)
	}
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, token, amount, ok := s.txParams(w, req, false)
	if !ok {
		return
	}
	if err := s.engine.Borrow(r.Context(), caller, token, amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, token, amount, ok := s.txParams(w, req, req.All)
	if !ok {
		return
	}
	var err error
	if req.All {
		err = s.engine.RepayAll(r.Context(), caller, token)
	} else {
		err = s.engine.Repay(r.Context(), caller, token, amount)
	}
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type collateralRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Enable bool   `json:"enable"`
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := types.ParseAddress(req.Caller)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	token, err := types.ParseAddress(req.Token)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enable {
		err = s.engine.EnableCollateral(caller, token)
	} else {
		err = s.engine.DisableCollateral(r.Context(), caller, token)
	}
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	User            string `json:"user"`
	DebtToken       string `json:"debt_token"`
	Amount          string `json:"amount"`
	CollateralToken string `json:"collateral_token"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	liquidator, err := types.ParseAddress(req.Liquidator)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	user, err := types.ParseAddress(req.User)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	debtToken, err := types.ParseAddress(req.DebtToken)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	collateralToken, err := types.ParseAddress(req.CollateralToken)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Liquidate(r.Context(), liquidator, user, debtToken, amount, collateralToken); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type treasuryRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if !s.decode(w, r, &req) {
		return
	}
	treasury, err := types.ParseAddress(req.Address)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetTreasury(s.engine.Owner(), treasury); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetPaused(s.engine.Owner(), req.Paused); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type priceRequest struct {
	Token     string `json:"token"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt uint64 `json:"updated_at"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !s.decode(w, r, &req) {
		return
	}
	token, err := types.ParseAddress(req.Token)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	source, ok := s.sources[token]
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("no steerable price source for token"))
		return
	}
	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	decimals := req.Decimals
	if decimals == 0 {
		decimals = 8
	}
	source.Set(price, decimals, req.UpdatedAt)
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

type fundRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("faucet available only with the in-process ledger"))
		return
	}
	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := types.ParseAddress(req.Address)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	token, err := types.ParseAddress(req.Token)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.Mint(addr, token, amount); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) txParams(w http.ResponseWriter, req txRequest, allowEmptyAmount bool) (caller, token types.Address, amount *uint256.Int, ok bool) {
	caller, err := types.ParseAddress(req.Caller)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return caller, token, nil, false
	}
	token, err = types.ParseAddress(req.Token)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return caller, token, nil, false
	}
	if allowEmptyAmount && req.Amount == "" {
		return caller, token, new(uint256.Int), true
	}
	amount, err = uint256.FromDecimal(req.Amount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return caller, token, nil, false
	}
	return caller, token, amount, true
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, key string) (types.Address, bool) {
	addr, err := types.ParseAddress(chi.URLParam(r, key))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return types.Address{}, false
	}
	return addr, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrUnknownReserve):
		return http.StatusNotFound
	case errors.Is(err, market.ErrDuplicateReserve),
		errors.Is(err, market.ErrReentrantCall),
		errors.Is(err, common.ErrModulePaused):
		return http.StatusConflict
	case errors.Is(err, market.ErrZeroAmount),
		errors.Is(err, market.ErrInvalidReserveConfig):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrInsufficientCollateral),
		errors.Is(err, market.ErrInsufficientLiquidity),
		errors.Is(err, market.ErrInvalidLiquidation),
		errors.Is(err, market.ErrInsufficientRepaid),
		errors.Is(err, market.ErrNoOutstandingDebt),
		errors.Is(err, market.ErrExcessiveRepayment):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
