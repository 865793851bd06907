package book

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/atmx/matchingd/internal/model"
)

// MaxSnapshotDepth is the hard cap on levels returned by Snapshot,
// matching the query endpoint's upper bound (spec §4.2).
const MaxSnapshotDepth = 1000

// DefaultBroadcastDepth is the depth used for orderbook-delta events
// published to subscribers (spec §6.3).
const DefaultBroadcastDepth = 20

// Level is one (price, total quantity) pair in a published Snapshot.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Snapshot is an immutable view of the top of both sides of a book.
// It is safe to read from any goroutine without synchronization.
type Snapshot struct {
	Instrument   string    `json:"instrument"`
	Bids         []Level   `json:"bids"`
	Asks         []Level   `json:"asks"`
	SnapshotTime time.Time `json:"snapshot_time"`
}

// Trim returns a copy of the snapshot truncated to at most depth
// levels per side.
func (s Snapshot) Trim(depth int) Snapshot {
	if depth <= 0 || depth > MaxSnapshotDepth {
		depth = MaxSnapshotDepth
	}
	out := Snapshot{Instrument: s.Instrument, SnapshotTime: s.SnapshotTime}
	if len(s.Bids) > depth {
		out.Bids = s.Bids[:depth]
	} else {
		out.Bids = s.Bids
	}
	if len(s.Asks) > depth {
		out.Asks = s.Asks[:depth]
	} else {
		out.Asks = s.Asks
	}
	return out
}

// OrderBook holds the resting bids and asks for a single instrument.
// It is exclusively owned and mutated by the matching engine's single
// worker goroutine; readers on other goroutines must go through
// Snapshot.
type OrderBook struct {
	Instrument string

	bids *btree.Map[string, *PriceLevel]
	asks *btree.Map[string, *PriceLevel]
	byID map[uuid.UUID]*BookEntry

	snapshot atomic.Pointer[Snapshot]
}

// NewOrderBook creates an empty book for instrument and publishes an
// initial empty snapshot.
func NewOrderBook(instrument string) *OrderBook {
	ob := &OrderBook{
		Instrument: instrument,
		bids:       btree.NewMap[string, *PriceLevel](32),
		asks:       btree.NewMap[string, *PriceLevel](32),
		byID:       make(map[uuid.UUID]*BookEntry),
	}
	ob.publish()
	return ob
}

// sideBook returns the price-indexed map for side.
func (ob *OrderBook) sideBook(side model.Side) *btree.Map[string, *PriceLevel] {
	if side == model.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// AddLimit creates a resting entry for a LIMIT order and inserts it
// into the appropriate side's level, creating the level if absent.
// Does not publish; callers batch a command's mutations and call
// Publish once at the end.
func (ob *OrderBook) AddLimit(orderID uuid.UUID, side model.Side, price, qty decimal.Decimal, createdAt time.Time, clientID string) *BookEntry {
	entry := &BookEntry{
		OrderID:   orderID,
		ClientID:  clientID,
		Side:      side,
		Price:     price,
		Remaining: qty,
		CreatedAt: createdAt,
	}

	sb := ob.sideBook(side)
	key := priceKey(price)
	level, ok := sb.Get(key)
	if !ok {
		level = NewPriceLevel(price)
		sb.Set(key, level)
	}
	_ = level.PushBack(entry)

	ob.byID[orderID] = entry
	return entry
}

// Cancel removes an order from the book. It returns false if the
// order is not present (already filled, cancelled, or never rested).
// Does not publish; see AddLimit.
func (ob *OrderBook) Cancel(orderID uuid.UUID) bool {
	entry, ok := ob.byID[orderID]
	if !ok {
		return false
	}
	ob.RemoveFilledEntry(entry)
	return true
}

// UpdateRemaining adjusts the containing level's total and the
// entry's own remaining quantity after a partial fill. Reports false
// if the order is not present in the book.
func (ob *OrderBook) UpdateRemaining(orderID uuid.UUID, newQty decimal.Decimal) bool {
	entry, ok := ob.byID[orderID]
	if !ok {
		return false
	}
	old := entry.Remaining
	entry.Remaining = newQty
	if entry.level != nil {
		entry.level.Adjust(entry, old, newQty)
	}
	return true
}

// Lookup returns the BookEntry for orderID, if any.
func (ob *OrderBook) Lookup(orderID uuid.UUID) (*BookEntry, bool) {
	e, ok := ob.byID[orderID]
	return e, ok
}

// BestBidLevel returns the highest-priced bid level, or nil if there
// are no bids.
func (ob *OrderBook) BestBidLevel() *PriceLevel {
	_, level, ok := ob.bids.Max()
	if !ok {
		return nil
	}
	return level
}

// BestAskLevel returns the lowest-priced ask level, or nil if there
// are no asks.
func (ob *OrderBook) BestAskLevel() *PriceLevel {
	_, level, ok := ob.asks.Min()
	if !ok {
		return nil
	}
	return level
}

// RemoveFilledEntry unlinks entry from its level (dropping the level
// if it becomes empty) and from the id lookup, without publishing a
// new snapshot. The engine calls this when a resting order's
// remaining quantity reaches zero during matching; the caller
// publishes once after the whole match loop completes.
func (ob *OrderBook) RemoveFilledEntry(entry *BookEntry) {
	if entry.level != nil {
		level := entry.level
		level.Remove(entry)
		if level.IsEmpty() {
			ob.sideBook(entry.Side).Delete(priceKey(level.Price))
		}
	}
	delete(ob.byID, entry.OrderID)
}

// Publish rebuilds and atomically swaps in a fresh snapshot. The
// engine calls this once after a whole command's mutations (AddLimit,
// Cancel, RemoveFilledEntry, UpdateRemaining) are applied.
func (ob *OrderBook) Publish() {
	ob.publish()
}

// Snapshot returns the most-recently published immutable view,
// trimmed to depth levels per side. Safe to call from any goroutine.
func (ob *OrderBook) Snapshot(depth int) Snapshot {
	s := ob.snapshot.Load()
	if s == nil {
		return Snapshot{Instrument: ob.Instrument, SnapshotTime: time.Now().UTC()}
	}
	return s.Trim(depth)
}

// publish rebuilds the full (MaxSnapshotDepth) snapshot from the
// current book state and swaps it in atomically. Must only be called
// from the owning worker goroutine.
func (ob *OrderBook) publish() {
	snap := &Snapshot{
		Instrument:   ob.Instrument,
		SnapshotTime: time.Now().UTC(),
		Bids:         make([]Level, 0, MaxSnapshotDepth),
		Asks:         make([]Level, 0, MaxSnapshotDepth),
	}

	ob.bids.Reverse(func(_ string, level *PriceLevel) bool {
		if level.TotalQty.IsPositive() {
			snap.Bids = append(snap.Bids, Level{Price: level.Price, Quantity: level.TotalQty})
		}
		return len(snap.Bids) < MaxSnapshotDepth
	})
	ob.asks.Scan(func(_ string, level *PriceLevel) bool {
		if level.TotalQty.IsPositive() {
			snap.Asks = append(snap.Asks, Level{Price: level.Price, Quantity: level.TotalQty})
		}
		return len(snap.Asks) < MaxSnapshotDepth
	})

	ob.snapshot.Store(snap)
}

// priceKey encodes a non-negative decimal price as a fixed-width,
// zero-padded string so that byte-lexicographic order (which is what
// the underlying B-tree sorts string keys by) matches numeric order
// regardless of magnitude. Prices are always positive for LIMIT
// orders (spec §3.1), so no sign handling is needed.
func priceKey(price decimal.Decimal) string {
	fixed := price.StringFixed(8)
	intPart, fracPart, found := strings.Cut(fixed, ".")
	if !found {
		fracPart = "00000000"
	}
	return fmt.Sprintf("%020s.%s", intPart, fracPart)
}
