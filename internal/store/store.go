// Package store defines the persistence interface for the matching
// engine. PostgreSQL is the source of truth; Redis provides an
// optional read-through cache layer; an in-memory implementation
// backs tests.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/atmx/matchingd/internal/model"
)

// Store is the persistence port the matching engine and intake depend
// on. Every write that the engine performs inside a single command's
// handling (trades then their orders) must be transactional where the
// implementation allows it.
type Store interface {
	// InsertOrder persists a newly accepted order before it is
	// enqueued to the engine (persist-before-enqueue).
	InsertOrder(ctx context.Context, order *model.Order) error

	// FindByIdempotencyKey returns the order previously created with
	// this key, if any, for a given client. Used by intake to
	// short-circuit duplicate submissions.
	FindByIdempotencyKey(ctx context.Context, clientID, key string) (*model.Order, error)

	// FindByID returns a single order by id.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// SaveOrders persists the mutated state (filled_quantity, status,
	// updated_at) of one or more orders touched by a single match.
	SaveOrders(ctx context.Context, orders []*model.Order) error

	// SaveTrades persists newly generated trades. Implementations that
	// also implement SaveOrders in the same call should run both under
	// one transaction (trades first, then their orders) per the
	// engine's write order.
	SaveTrades(ctx context.Context, trades []*model.Trade) error

	// ScanLiveOrders returns every order whose status is OPEN or
	// PARTIALLY_FILLED, ordered by created_at ascending, for recovery
	// to replay into fresh order books.
	ScanLiveOrders(ctx context.Context) ([]*model.Order, error)

	// ListTrades returns the most recent trades, newest first, capped
	// at limit. An empty instrument returns trades across every
	// instrument.
	ListTrades(ctx context.Context, instrument string, limit int) ([]*model.Trade, error)
}
