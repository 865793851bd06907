package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/atmx/matchingd/internal/model"
)

// Memory implements Store with in-memory maps. Used for engine and
// recovery tests; not suitable for production (no persistence).
type Memory struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*model.Order
	trades []*model.Trade
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[uuid.UUID]*model.Order)}
}

func (s *Memory) InsertOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	copy := *order
	s.orders[order.ID] = &copy
	return nil
}

func (s *Memory) FindByIdempotencyKey(_ context.Context, clientID, key string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ClientID == clientID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			copy := *o
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *Memory) FindByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	copy := *o
	return &copy, nil
}

func (s *Memory) SaveOrders(_ context.Context, orders []*model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range orders {
		if _, ok := s.orders[o.ID]; !ok {
			return fmt.Errorf("order %s not found", o.ID)
		}
		copy := *o
		s.orders[o.ID] = &copy
	}
	return nil
}

func (s *Memory) SaveTrades(_ context.Context, trades []*model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		copy := *t
		s.trades = append(s.trades, &copy)
	}
	return nil
}

func (s *Memory) ScanLiveOrders(_ context.Context) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []*model.Order
	for _, o := range s.orders {
		if o.Status.Resting() {
			copy := *o
			live = append(live, &copy)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	return live, nil
}

func (s *Memory) ListTrades(_ context.Context, instrument string, limit int) ([]*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Trade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if instrument == "" || s.trades[i].Instrument == instrument {
			copy := *s.trades[i]
			out = append(out, &copy)
		}
	}
	return out, nil
}

// Trades returns every trade recorded, in insertion order. Test-only
// accessor; not part of the Store interface.
func (s *Memory) Trades() []*model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}
