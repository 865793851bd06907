package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/matchingd/internal/model"
)

// Cached wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot single-order lookup path (GET /orders/{id}).
// Recovery-critical reads (ScanLiveOrders) and most writes pass
// straight through to the primary: recovery must never replay a book
// from a stale cache entry. SaveMatch is the one write forwarded with
// its transactional guarantee intact (see below) rather than passed
// straight through, since the engine only detects that guarantee on
// the concrete store it holds.
type Cached struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCached creates a cached wrapper around a primary store.
func NewCached(primary Store, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *Cached) InsertOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.InsertOrder(ctx, o); err != nil {
		return err
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *Cached) FindByIdempotencyKey(ctx context.Context, clientID, key string) (*model.Order, error) {
	// Idempotency lookups are rare relative to order-id lookups and
	// must reflect the most recent insert, so this always hits the
	// primary rather than risking a stale negative from the cache.
	return s.primary.FindByIdempotencyKey(ctx, clientID, key)
}

func (s *Cached) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *Cached) SaveOrders(ctx context.Context, orders []*model.Order) error {
	if err := s.primary.SaveOrders(ctx, orders); err != nil {
		return err
	}
	for _, o := range orders {
		s.cacheOrder(ctx, o)
	}
	return nil
}

func (s *Cached) SaveTrades(ctx context.Context, trades []*model.Trade) error {
	return s.primary.SaveTrades(ctx, trades)
}

// transactionalPrimary mirrors engine.transactional structurally
// (same method, different package) so Cached can detect and forward
// to a one-transaction primary without store importing engine.
type transactionalPrimary interface {
	SaveMatch(ctx context.Context, trades []*model.Trade, orders []*model.Order) error
}

// SaveMatch forwards to the primary's own SaveMatch when it supports
// one-transaction writes (Postgres does), falling back to two
// sequential calls otherwise, then refreshes the cache for every
// touched order. Without this, wrapping Postgres in Cached would
// silently downgrade every match write from one transaction to two
// (engine.persist only detects SaveMatch on the concrete store it
// holds, which is Cached, not the Postgres it wraps).
func (s *Cached) SaveMatch(ctx context.Context, trades []*model.Trade, orders []*model.Order) error {
	if tx, ok := s.primary.(transactionalPrimary); ok {
		if err := tx.SaveMatch(ctx, trades, orders); err != nil {
			return err
		}
	} else {
		if len(trades) > 0 {
			if err := s.primary.SaveTrades(ctx, trades); err != nil {
				return err
			}
		}
		if err := s.primary.SaveOrders(ctx, orders); err != nil {
			return err
		}
	}
	for _, o := range orders {
		s.cacheOrder(ctx, o)
	}
	return nil
}

func (s *Cached) ScanLiveOrders(ctx context.Context) ([]*model.Order, error) {
	return s.primary.ScanLiveOrders(ctx)
}

func (s *Cached) ListTrades(ctx context.Context, instrument string, limit int) ([]*model.Trade, error) {
	return s.primary.ListTrades(ctx, instrument, limit)
}

func (s *Cached) cacheOrder(ctx context.Context, o *model.Order) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderKey(o.ID), data, s.ttl)
	}
}

func orderKey(id uuid.UUID) string { return fmt.Sprintf("order:%s", id) }
