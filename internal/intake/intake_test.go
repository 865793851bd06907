package intake_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/engine"
	"github.com/atmx/matchingd/internal/events"
	"github.com/atmx/matchingd/internal/intake"
	"github.com/atmx/matchingd/internal/model"
	"github.com/atmx/matchingd/internal/ratelimit"
	"github.com/atmx/matchingd/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with an in-memory store, a running
// engine, and a chi router wired to its routes.
func newTestEnv(t *testing.T) (*intake.Service, store.Store, chi.Router, context.CancelFunc) {
	t.Helper()
	st := store.NewMemory()
	sink := events.NewSink()
	eng := engine.New(st, sink, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	svc := intake.NewService(st, eng, sink, ratelimit.New(1000, time.Second))

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Post("/api/v1/orders/{id}/cancel", svc.CancelOrder)
	r.Get("/api/v1/orders/{id}", svc.GetOrder)
	r.Get("/api/v1/orderbook", svc.GetOrderBook)
	r.Get("/api/v1/trades", svc.GetTrades)

	return svc, st, r, cancel
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPlaceOrder_ValidLimitOrderIsAccepted(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/orders", intake.PlaceOrderRequest{
		ClientID:   "buyer",
		Instrument: "BTC-USD",
		Side:       "BUY",
		Type:       "LIMIT",
		Price:      d(100),
		Quantity:   d(1),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var order model.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if order.Status != model.StatusOpen {
		t.Errorf("expected OPEN for a non-crossing resting order, got %s", order.Status)
	}
}

func TestPlaceOrder_MissingRequiredFieldsIsRejected(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/orders", intake.PlaceOrderRequest{
		Instrument: "BTC-USD",
		Side:       "BUY",
		Type:       "LIMIT",
		Price:      d(100),
		Quantity:   d(1),
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing client_id, got %d", rec.Code)
	}
}

func TestPlaceOrder_IdempotentReplayReturnsSameOrder(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	key := "dup-key"
	req := intake.PlaceOrderRequest{
		ClientID:       "buyer",
		Instrument:     "BTC-USD",
		Side:           "BUY",
		Type:           "LIMIT",
		Price:          d(100),
		Quantity:       d(1),
		IdempotencyKey: &key,
	}

	first := doJSON(t, r, http.MethodPost, "/api/v1/orders", req)
	second := doJSON(t, r, http.MethodPost, "/api/v1/orders", req)

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both submissions to return 201, got %d and %d", first.Code, second.Code)
	}

	var firstOrder, secondOrder model.Order
	json.Unmarshal(first.Body.Bytes(), &firstOrder)
	json.Unmarshal(second.Body.Bytes(), &secondOrder)

	if firstOrder.ID != secondOrder.ID {
		t.Errorf("expected idempotent replay to return the same order id, got %s and %s", firstOrder.ID, secondOrder.ID)
	}
}

func TestCancelOrder_UnknownIDReturnsNotFound(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/00000000-0000-0000-0000-000000000000/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown order id, got %d", rec.Code)
	}
}

func TestGetOrderBook_RequiresInstrument(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orderbook", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without an instrument query param, got %d", rec.Code)
	}
}

func TestGetOrderBook_ReflectsRestingOrder(t *testing.T) {
	_, _, r, cancel := newTestEnv(t)
	defer cancel()

	doJSON(t, r, http.MethodPost, "/api/v1/orders", intake.PlaceOrderRequest{
		ClientID:   "buyer",
		Instrument: "ETH-USD",
		Side:       "BUY",
		Type:       "LIMIT",
		Price:      d(50),
		Quantity:   d(2),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orderbook?instrument=ETH-USD", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"bids"`)) {
		t.Errorf("expected a bids field in the snapshot response, got %s", rec.Body.String())
	}
}
