package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/model"
)

func TestMemory_InsertOrder_RejectsDuplicateID(t *testing.T) {
	s := NewMemory()
	o := model.NewOrder("c1", "BTC-USD", model.SideBuy, model.KindLimit, decimal.NewFromInt(100), decimal.NewFromInt(1), nil)

	if err := s.InsertOrder(context.Background(), o); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertOrder(context.Background(), o); err == nil {
		t.Fatal("expected second insert of the same id to fail")
	}
}

func TestMemory_FindByIdempotencyKey_ScopedToClient(t *testing.T) {
	s := NewMemory()
	key := "abc"
	o := model.NewOrder("c1", "BTC-USD", model.SideBuy, model.KindLimit, decimal.NewFromInt(100), decimal.NewFromInt(1), &key)
	if err := s.InsertOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	found, err := s.FindByIdempotencyKey(context.Background(), "c1", key)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != o.ID {
		t.Fatalf("expected to find order by (client, key), got %v", found)
	}

	other, err := s.FindByIdempotencyKey(context.Background(), "c2", key)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Error("expected the same key under a different client id to not match")
	}
}

func TestMemory_ScanLiveOrders_ExcludesTerminalOrders(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	resting := model.NewOrder("c1", "BTC-USD", model.SideBuy, model.KindLimit, decimal.NewFromInt(100), decimal.NewFromInt(1), nil)
	filled := model.NewOrder("c2", "BTC-USD", model.SideSell, model.KindLimit, decimal.NewFromInt(100), decimal.NewFromInt(1), nil)
	filled.Status = model.StatusFilled

	if err := s.InsertOrder(ctx, resting); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertOrder(ctx, filled); err != nil {
		t.Fatal(err)
	}

	live, err := s.ScanLiveOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ID != resting.ID {
		t.Fatalf("expected only the resting order, got %+v", live)
	}
}

func TestMemory_ListTrades_NewestFirstCappedAtLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		trade := &model.Trade{
			ID:         uuid.New(),
			Instrument: "BTC-USD",
			Price:      decimal.NewFromInt(int64(100 + i)),
			Quantity:   decimal.NewFromInt(1),
		}
		if err := s.SaveTrades(ctx, []*model.Trade{trade}); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := s.ListTrades(ctx, "BTC-USD", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades capped by limit, got %d", len(trades))
	}
	if !trades[0].Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("expected newest trade first, got price %s", trades[0].Price)
	}
}
