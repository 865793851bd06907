// Package model defines the core domain types shared across the matching
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the defined sides.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Kind is the order's execution style.
type Kind string

const (
	KindLimit  Kind = "LIMIT"
	KindMarket Kind = "MARKET"
)

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k == KindLimit || k == KindMarket }

// Status is the lifecycle state of an order. Transitions are
// monotonic: OPEN -> {PARTIALLY_FILLED, FILLED, CANCELLED};
// PARTIALLY_FILLED -> {FILLED, CANCELLED}. FILLED, CANCELLED and
// REJECTED are terminal.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

// Terminal reports whether no further transition from this status is
// permitted.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Resting reports whether this status is a live one (OPEN or
// PARTIALLY_FILLED). Only LIMIT orders in a live status rest in the
// in-memory book; this method checks the status alone, not the kind.
func (s Status) Resting() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// Order is a client request to buy or sell a quantity of an
// instrument, identified by a 128-bit id. Created by Intake, mutated
// exclusively by the matching engine's worker goroutine after
// enqueue, never destroyed.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	ClientID       string          `json:"client_id"`
	Instrument     string          `json:"instrument"`
	Side           Side            `json:"side"`
	Kind           Kind            `json:"type"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         Status          `json:"status"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining returns the quantity left to fill.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is an immutable record of one execution between two orders.
// Once created, trades are never modified or deleted.
type Trade struct {
	ID          uuid.UUID       `json:"id"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Instrument  string          `json:"instrument"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// NewOrder builds an Order in status OPEN with timestamps set to now.
// Validation is the caller's responsibility (Intake, or the engine's
// own defensive checks on PLACE).
func NewOrder(clientID, instrument string, side Side, kind Kind, price, quantity decimal.Decimal, idempotencyKey *string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.New(),
		ClientID:       clientID,
		Instrument:     instrument,
		Side:           side,
		Kind:           kind,
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: decimal.Zero,
		Status:         StatusOpen,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
