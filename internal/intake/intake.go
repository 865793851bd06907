// Package intake implements the HTTP surface: validating and
// persisting new orders before handing them to the matching engine,
// and serving order/book/trade queries. Handler shape (chi URL params,
// json.NewEncoder responses, slog logging) follows the teacher's
// internal/trade.Service.
package intake

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/apierror"
	"github.com/atmx/matchingd/internal/book"
	"github.com/atmx/matchingd/internal/engine"
	"github.com/atmx/matchingd/internal/events"
	"github.com/atmx/matchingd/internal/metrics"
	"github.com/atmx/matchingd/internal/model"
	"github.com/atmx/matchingd/internal/ratelimit"
	"github.com/atmx/matchingd/internal/store"
)

// Service wires the engine, store, event sink, and rate limiter
// behind the HTTP handlers.
type Service struct {
	store   store.Store
	engine  *engine.Engine
	events  *events.Sink
	limiter *ratelimit.Limiter
}

// NewService creates an intake Service.
func NewService(st store.Store, eng *engine.Engine, sink *events.Sink, limiter *ratelimit.Limiter) *Service {
	return &Service{store: st, engine: eng, events: sink, limiter: limiter}
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	ClientID       string          `json:"client_id"`
	Instrument     string          `json:"instrument"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

// PlaceOrder handles POST /orders: validates, persists (OPEN), then
// submits to the engine and responds with the settled order state.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIDFromRequest(r)) {
		metrics.RateLimitRejections.Inc()
		apierror.TooManyRequests(w, "too many order submissions, slow down")
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest(w, "invalid request body")
		return
	}

	if fieldErrs := validatePlaceRequest(req); len(fieldErrs) > 0 {
		apierror.BadRequest(w, "invalid order", fieldErrs...)
		return
	}

	ctx := r.Context()

	if req.IdempotencyKey != nil {
		existing, err := s.store.FindByIdempotencyKey(ctx, req.ClientID, *req.IdempotencyKey)
		if err != nil {
			apierror.Internal(w, "failed to check idempotency key")
			return
		}
		if existing != nil {
			writeJSON(w, http.StatusCreated, existing)
			return
		}
	}

	order := model.NewOrder(req.ClientID, req.Instrument, model.Side(req.Side), model.Kind(req.Type), req.Price, req.Quantity, req.IdempotencyKey)

	if err := s.store.InsertOrder(ctx, order); err != nil {
		apierror.Conflict(w, "order could not be recorded: "+err.Error())
		return
	}

	res, err := s.engine.Submit(ctx, order)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			apierror.QueueFull(w, "command queue is full, retry later")
			return
		}
		if errors.Is(err, engine.ErrPaused) {
			apierror.Unavailable(w, "store is unavailable, matching engine is paused")
			return
		}
		apierror.Internal(w, "failed to process order")
		return
	}

	slog.Info("order placed", "order_id", res.Order.ID, "instrument", res.Order.Instrument, "status", res.Order.Status)
	writeJSON(w, http.StatusCreated, res.Order)
}

// CancelOrder handles POST /orders/{id}/cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest(w, "invalid order id")
		return
	}

	res, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			apierror.NotFound(w, "order not found")
			return
		}
		if errors.Is(err, engine.ErrQueueFull) {
			apierror.QueueFull(w, "command queue is full, retry later")
			return
		}
		if errors.Is(err, engine.ErrPaused) {
			apierror.Unavailable(w, "store is unavailable, matching engine is paused")
			return
		}
		apierror.Internal(w, "failed to cancel order")
		return
	}

	// Cancelling an already-terminal order is a no-op: still 200 with
	// its current state (decided open question).
	writeJSON(w, http.StatusOK, res.Order)
}

// GetOrder handles GET /orders/{id}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest(w, "invalid order id")
		return
	}

	order, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		apierror.NotFound(w, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// defaultOrderBookLevels is used when the caller omits levels=N.
const defaultOrderBookLevels = 20

// defaultTradesLimit is used when the caller omits limit=N.
const defaultTradesLimit = 100

// GetOrderBook handles GET /orderbook?instrument=X&levels=N, N in [1,1000].
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		apierror.BadRequest(w, "instrument query parameter is required")
		return
	}

	levels := defaultOrderBookLevels
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > book.MaxSnapshotDepth {
			apierror.BadRequest(w, "levels must be an integer between 1 and 1000")
			return
		}
		levels = n
	}

	snap := s.engine.Snapshot(instrument, levels)
	writeJSON(w, http.StatusOK, snap)
}

// GetTrades handles GET /trades?limit=N, N <= 1000, newest first. An
// optional instrument query parameter scopes the result to one
// instrument; omitted, it returns the most recent trades across all
// instruments.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")

	limit := defaultTradesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	trades, err := s.store.ListTrades(r.Context(), instrument, limit)
	if err != nil {
		apierror.Internal(w, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetEventStream handles GET /events/{stream}, upgrading to a
// WebSocket connection on the named stream.
func (s *Service) GetEventStream(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	if !s.events.HandleSubscribe(stream, w, r) {
		apierror.NotFound(w, "unknown event stream: "+stream)
	}
}

// HealthCheck handles GET /healthz.
func (s *Service) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	code := http.StatusOK

	dbStatus := "UP"
	if _, err := s.store.ScanLiveOrders(r.Context()); err != nil {
		dbStatus = "DOWN"
		status = "DOWN"
		code = http.StatusServiceUnavailable
	}

	queueStatus := "UP"
	if s.engine.Paused() {
		queueStatus = "DOWN"
		status = "DOWN"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status":   status,
		"database": dbStatus,
		"queue":    queueStatus,
	})
}

func validatePlaceRequest(req PlaceOrderRequest) []apierror.FieldError {
	var errs []apierror.FieldError
	if req.ClientID == "" {
		errs = append(errs, apierror.FieldError{Field: "client_id", Message: "required"})
	}
	if req.Instrument == "" {
		errs = append(errs, apierror.FieldError{Field: "instrument", Message: "required"})
	}
	if !model.Side(req.Side).Valid() {
		errs = append(errs, apierror.FieldError{Field: "side", Message: "must be BUY or SELL"})
	}
	if !model.Kind(req.Type).Valid() {
		errs = append(errs, apierror.FieldError{Field: "type", Message: "must be LIMIT or MARKET"})
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, apierror.FieldError{Field: "quantity", Message: "must be positive"})
	}
	if req.Quantity.Exponent() < -maxDecimalScale {
		errs = append(errs, apierror.FieldError{Field: "quantity", Message: "decimal scale must not exceed 8"})
	}
	if model.Kind(req.Type) == model.KindLimit && req.Price.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, apierror.FieldError{Field: "price", Message: "required and must be positive for LIMIT orders"})
	}
	if req.Price.Exponent() < -maxDecimalScale {
		errs = append(errs, apierror.FieldError{Field: "price", Message: "decimal scale must not exceed 8"})
	}
	return errs
}

// maxDecimalScale is the largest number of digits allowed after the
// decimal point for price and quantity (spec §6.1 validation
// constraints), matching the NUMERIC(_, 8) columns in migrations.sql.
const maxDecimalScale = 8

func clientIDFromRequest(r *http.Request) string {
	// The rate limiter keys on client id before the body is even
	// decoded, so it reads the same header clients are expected to
	// send; PlaceOrder's own body-level client_id is what gets
	// persisted.
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
