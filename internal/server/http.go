package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"CornLedger/internal/core"
	"CornLedger/internal/observability"
	"CornLedger/internal/oracle"
	"CornLedger/internal/projection"
	"CornLedger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// baseUnitDecimals is the fixed-point scale of every on-ledger amount.
const baseUnitDecimals = 18

// Server is the HTTP/JSON API: operations against the live core, reads
// against the projections, and the health endpoints.
type Server struct {
	httpServer    *http.Server
	core          *core.LendingCore
	query         *query.QueryService
	oracle        *oracle.FeedOracle
	db            *sql.DB
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	log           zerolog.Logger
}

// Deps holds the dependencies the HTTP handlers need.
type Deps struct {
	Core          *core.LendingCore
	Query         *query.QueryService
	Oracle        *oracle.FeedOracle
	DB            *sql.DB
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

func NewServer(addr string, deps *Deps) *Server {
	s := &Server{
		core:          deps.Core,
		query:         deps.Query,
		oracle:        deps.Oracle,
		db:            deps.DB,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		log:           deps.Log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	if s.healthChecker != nil {
		r.Get("/healthz", s.healthChecker.LivenessHandler)
		r.Get("/readyz", s.healthChecker.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collateral/deposit", s.handleDeposit)
		r.Post("/collateral/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/liquidations", s.handleLiquidate)

		r.Get("/price", s.handlePrice)
		r.Get("/positions", s.handleListPositions)
		r.Get("/positions/{userID}", s.handleGetPosition)
		r.Get("/positions/{userID}/value", s.handleCollateralValue)
		r.Get("/positions/{userID}/ratio", s.handlePositionRatio)
		r.Get("/positions/{userID}/liquidatable", s.handleLiquidatable)
		r.Get("/balances/{userID}", s.handleBalances)
		r.Get("/liquidations/{userID}", s.handleLiquidationHistory)
		r.Get("/journal/{userID}", s.handleJournalHistory)

		r.Get("/admin/integrity", s.handleVerifyIntegrity)
		r.Post("/admin/projections/rebuild", s.handleRebuildProjections)
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// instrument records request count, latency, and error count per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		status := ww.Status()
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		}
	})
}

// --- Operation handlers ---

// operationRequest is the common body for deposit, withdraw, borrow, repay.
// Amount is in asset units ("1.5" = 1.5 ETH); it must not carry more than 18
// decimal places. operation_id is the idempotency key; the Idempotency-Key
// header works too, and a missing key gets a fresh UUID (no replay protection).
type operationRequest struct {
	OperationID string          `json:"operation_id,omitempty"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
}

type liquidateRequest struct {
	LiquidationID string `json:"liquidation_id,omitempty"`
	LiquidatorID  string `json:"liquidator_id"`
	UserID        string `json:"user_id"`
}

type receiptResponse struct {
	Sequence   int64  `json:"sequence"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Price      string `json:"price,omitempty"`
	UserID     string `json:"user_id"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type liquidationReceiptResponse struct {
	receiptResponse
	LiquidationID    string `json:"liquidation_id"`
	DebtRepaid       string `json:"debt_repaid,omitempty"`
	CollateralSeized string `json:"collateral_seized,omitempty"`
	Bonus            string `json:"bonus,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	opID, userID, amount, ok := s.decodeOperation(w, r)
	if !ok {
		return
	}
	receipt, err := s.core.AddCollateral(r.Context(), opID, userID, amount)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, toReceiptResponse(receipt), http.StatusOK)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	opID, userID, amount, ok := s.decodeOperation(w, r)
	if !ok {
		return
	}
	receipt, err := s.core.WithdrawCollateral(r.Context(), opID, userID, amount)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, toReceiptResponse(receipt), http.StatusOK)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	opID, userID, amount, ok := s.decodeOperation(w, r)
	if !ok {
		return
	}
	receipt, err := s.core.BorrowCorn(r.Context(), opID, userID, amount)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, toReceiptResponse(receipt), http.StatusOK)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	opID, userID, amount, ok := s.decodeOperation(w, r)
	if !ok {
		return
	}
	receipt, err := s.core.RepayCorn(r.Context(), opID, userID, amount)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, toReceiptResponse(receipt), http.StatusOK)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	liquidatorID, err := uuid.Parse(req.LiquidatorID)
	if err != nil {
		writeError(w, "invalid liquidator_id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	liquidationID, ok := operationID(w, r, req.LiquidationID)
	if !ok {
		return
	}

	receipt, err := s.core.Liquidate(r.Context(), liquidationID, liquidatorID, userID)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}

	resp := liquidationReceiptResponse{
		receiptResponse: toReceiptResponse(&receipt.Receipt),
		LiquidationID:   receipt.LiquidationID.String(),
	}
	if !receipt.Duplicate {
		resp.DebtRepaid = fromBaseUnits(receipt.DebtRepaid)
		resp.CollateralSeized = fromBaseUnits(receipt.CollateralSeized)
		resp.Bonus = fromBaseUnits(receipt.Bonus)
	}
	writeJSON(w, resp, http.StatusOK)
}

// decodeOperation parses the shared operation body and converts the amount
// to base units.
func (s *Server) decodeOperation(w http.ResponseWriter, r *http.Request) (opID, userID uuid.UUID, amount *big.Int, ok bool) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, nil, false
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, "invalid user_id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, nil, false
	}
	opID, ok = operationID(w, r, req.OperationID)
	if !ok {
		return uuid.Nil, uuid.Nil, nil, false
	}

	amount, err = toBaseUnits(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, nil, false
	}
	return opID, userID, amount, true
}

// operationID resolves the idempotency key: body field first, then the
// Idempotency-Key header, then a generated UUID.
func operationID(w http.ResponseWriter, r *http.Request, fromBody string) (uuid.UUID, bool) {
	raw := fromBody
	if raw == "" {
		raw = r.Header.Get("Idempotency-Key")
	}
	if raw == "" {
		return uuid.New(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, "operation id must be a UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func toReceiptResponse(rcpt *core.Receipt) receiptResponse {
	resp := receiptResponse{
		Sequence:  rcpt.Sequence,
		Duplicate: rcpt.Duplicate,
		UserID:    rcpt.Position.UserID.String(),
	}
	if rcpt.Price != nil {
		resp.Price = fromBaseUnits(rcpt.Price)
	}
	resp.Collateral = fromBaseUnits(rcpt.Position.Collateral)
	resp.Debt = fromBaseUnits(rcpt.Position.Debt)
	return resp
}

// --- Read handlers ---

type positionResponse struct {
	UserID       string `json:"user_id"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type priceResponse struct {
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp_us"`
	ReceivedAt     int64  `json:"received_at_us"`
}

type valueResponse struct {
	UserID          string `json:"user_id"`
	CollateralValue string `json:"collateral_value"`
	Price           string `json:"price"`
}

type ratioResponse struct {
	UserID   string `json:"user_id"`
	RatioPct string `json:"ratio_pct"`
}

type liquidatableResponse struct {
	UserID       string `json:"user_id"`
	Liquidatable bool   `json:"liquidatable"`
}

type balanceResponse struct {
	AccountPath  string `json:"account_path"`
	AssetID      uint16 `json:"asset_id"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type liquidationHistoryResponse struct {
	LiquidationID    string `json:"liquidation_id"`
	UserID           string `json:"user_id"`
	LiquidatorID     string `json:"liquidator_id"`
	DebtRepaid       string `json:"debt_repaid"`
	CollateralSeized string `json:"collateral_seized"`
	Bonus            string `json:"bonus"`
	Price            string `json:"price"`
	Sequence         int64  `json:"sequence"`
	Timestamp        int64  `json:"timestamp_us"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

type journalEntryResponse struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp_us"`
}

// handleGetPosition reads the live core, not the projection: an operation
// acknowledged to the caller is immediately visible here.
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	pos := s.core.GetPosition(userID)
	lastApplied := s.core.GetSequence() - 1
	if lastApplied < 0 {
		lastApplied = 0
	}
	writeJSON(w, positionResponse{
		UserID:       pos.UserID.String(),
		Collateral:   fromBaseUnits(pos.Collateral),
		Debt:         fromBaseUnits(pos.Debt),
		LastSequence: lastApplied,
		AsOfSequence: lastApplied,
	}, http.StatusOK)
}

// handleListPositions serves from the projection: listing every position is
// a scan the single-threaded core should not pay for on the hot path.
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 500)
	positions, err := s.query.ListPositions(r.Context(), limit)
	if err != nil {
		writeError(w, "list positions failed", http.StatusInternalServerError)
		return
	}

	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		resp = append(resp, positionResponse{
			UserID:       p.UserID.String(),
			Collateral:   fromBaseUnitString(p.Collateral),
			Debt:         fromBaseUnitString(p.Debt),
			LastSequence: p.LastSequence,
			AsOfSequence: p.AsOfSequence,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) handleCollateralValue(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	value, err := s.core.CollateralValue(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	price, err := s.core.CurrentPrice(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, valueResponse{
		UserID:          userID.String(),
		CollateralValue: fromBaseUnits(value),
		Price:           fromBaseUnits(price),
	}, http.StatusOK)
}

func (s *Server) handlePositionRatio(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	ratio, err := s.core.PositionRatio(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	// Whole percent, not base units. Zero debt reports the max-uint256
	// sentinel verbatim.
	writeJSON(w, ratioResponse{
		UserID:   userID.String(),
		RatioPct: ratio.String(),
	}, http.StatusOK)
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	liquidatable, err := s.core.IsLiquidatable(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusForCoreError(err))
		return
	}
	writeJSON(w, liquidatableResponse{
		UserID:       userID.String(),
		Liquidatable: liquidatable,
	}, http.StatusOK)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, seq, priceTs, receivedAt, ok := s.oracle.LastPrice()
	if !ok {
		writeError(w, "no oracle price received yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, priceResponse{
		Price:          fromBaseUnits(price),
		PriceSequence:  seq,
		PriceTimestamp: priceTs,
		ReceivedAt:     receivedAt.UnixMicro(),
	}, http.StatusOK)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	balances, err := s.query.GetBalances(r.Context(), userID)
	if err != nil {
		writeError(w, "get balances failed", http.StatusInternalServerError)
		return
	}

	resp := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		resp = append(resp, balanceResponse{
			AccountPath:  b.AccountPath,
			AssetID:      b.AssetID,
			Balance:      fromBaseUnitString(b.Balance),
			LastSequence: b.LastSequence,
			AsOfSequence: b.AsOfSequence,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r, 50, 100)
	afterSeq := queryAfterSequence(r)

	history, err := s.query.GetLiquidationHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, "get liquidation history failed", http.StatusInternalServerError)
		return
	}

	resp := make([]liquidationHistoryResponse, 0, len(history))
	for _, h := range history {
		resp = append(resp, liquidationHistoryResponse{
			LiquidationID:    h.LiquidationID,
			UserID:           h.UserID.String(),
			LiquidatorID:     h.LiquidatorID,
			DebtRepaid:       fromBaseUnitString(h.DebtRepaid),
			CollateralSeized: fromBaseUnitString(h.CollateralSeized),
			Bonus:            fromBaseUnitString(h.Bonus),
			Price:            fromBaseUnitString(h.Price),
			Sequence:         h.Sequence,
			Timestamp:        h.Timestamp,
			AsOfSequence:     h.AsOfSequence,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r, 100, 500)
	afterSeq := queryAfterSequence(r)

	entries, err := s.query.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, "get journal history failed", http.StatusInternalServerError)
		return
	}

	resp := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, journalEntryResponse{
			JournalID:     e.JournalID,
			BatchID:       e.BatchID,
			EventRef:      e.EventRef,
			Sequence:      e.Sequence,
			DebitAccount:  e.DebitAccount,
			CreditAccount: e.CreditAccount,
			AssetID:       e.AssetID,
			Amount:        fromBaseUnitString(e.Amount),
			JournalType:   e.JournalType,
			Timestamp:     e.Timestamp,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// --- Admin handlers ---

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, "verify integrity failed", http.StatusInternalServerError)
		return
	}
	// The live zero-sum check complements the persisted one: it catches a
	// divergence before the projection does.
	if liveErr := s.core.VerifyGlobalBalance(); liveErr != nil {
		report.IsHealthy = false
		s.log.Error().Err(liveErr).Msg("live global balance check failed")
	}
	writeJSON(w, report, http.StatusOK)
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db, s.log); err != nil {
		writeError(w, fmt.Sprintf("rebuild failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"rebuilt": true}, http.StatusOK)
}

// --- Helpers ---

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > max {
		return def
	}
	return limit
}

func queryAfterSequence(r *http.Request) *int64 {
	raw := r.URL.Query().Get("after_sequence")
	if raw == "" {
		return nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq <= 0 {
		return nil
	}
	return &seq
}

// toBaseUnits converts an asset-unit decimal to base units. Rejects
// non-positive amounts and amounts finer than the base-unit scale.
func toBaseUnits(d decimal.Decimal) (*big.Int, error) {
	if !d.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	scaled := d.Shift(baseUnitDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount exceeds %d decimal places", baseUnitDecimals)
	}
	return scaled.BigInt(), nil
}

// fromBaseUnits renders base units as an asset-unit decimal string.
func fromBaseUnits(v *big.Int) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromBigInt(v, -baseUnitDecimals).String()
}

// fromBaseUnitString converts a base-unit integer string, as stored in the
// projections, to an asset-unit decimal string.
func fromBaseUnitString(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return fromBaseUnits(v)
}

// statusForCoreError maps a core operation error to an HTTP status.
// Guard rejections are conflicts, oracle outages are 503s, and failed
// external transfers surface as bad gateway.
func statusForCoreError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnsafePositionRatio),
		errors.Is(err, core.ErrNotLiquidatable),
		errors.Is(err, core.ErrInsufficientLiquidatorCorn):
		return http.StatusConflict
	case errors.Is(err, core.ErrOracleUnavailable),
		errors.Is(err, core.ErrInvalidOraclePrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrTransferFailed),
		errors.Is(err, core.ErrBorrowingFailed),
		errors.Is(err, core.ErrRepayingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
