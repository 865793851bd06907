// Package book implements the order book: price levels ordered by
// price-time priority, and the per-instrument bid/ask structure that
// sits on top of them. Both types are owned exclusively by the
// matching engine's single worker goroutine; every other goroutine
// only ever reads a published Snapshot (see orderbook.go).
package book

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/model"
)

// ErrNilEntry is returned by PushBack when asked to queue a nil entry.
var ErrNilEntry = errors.New("book: entry is nil")

// BookEntry is a resting order's footprint inside a PriceLevel. It
// carries an intrusive doubly-linked list pointer pair so Remove is
// O(1) given the entry, and a plain pointer back to its level. The
// level's head/tail links point at its entries in turn, so an entry
// and its level reference each other; Remove clears the entry's side
// of that link.
type BookEntry struct {
	OrderID   uuid.UUID
	ClientID  string
	Side      model.Side
	Price     decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time

	level      *PriceLevel
	prev, next *BookEntry
}

// PriceLevel is the FIFO queue of resting orders at one price on one
// side of the book.
type PriceLevel struct {
	Price    decimal.Decimal
	TotalQty decimal.Decimal

	head, tail *BookEntry
	count      int
}

// NewPriceLevel creates an empty level at the given price.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, TotalQty: decimal.Zero}
}

// PushBack appends entry to the tail of the level's FIFO queue and
// adds its remaining quantity to the running total.
func (l *PriceLevel) PushBack(entry *BookEntry) error {
	if entry == nil {
		return ErrNilEntry
	}
	entry.level = l
	entry.prev = l.tail
	entry.next = nil
	if l.tail != nil {
		l.tail.next = entry
	} else {
		l.head = entry
	}
	l.tail = entry
	l.count++
	l.TotalQty = l.TotalQty.Add(entry.Remaining)
	return nil
}

// Head returns the oldest entry in the level without removing it, or
// nil if the level is empty.
func (l *PriceLevel) Head() *BookEntry {
	return l.head
}

// Remove unlinks entry from the level in O(1) and subtracts its
// remaining quantity from the running total.
func (l *PriceLevel) Remove(entry *BookEntry) {
	if entry == nil || entry.level != l {
		return
	}
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		l.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		l.tail = entry.prev
	}
	entry.prev, entry.next, entry.level = nil, nil, nil
	l.count--
	l.TotalQty = l.TotalQty.Sub(entry.Remaining)
}

// Adjust updates the level's running total when entry's remaining
// quantity changes from oldQty to newQty without entering or leaving
// the level (a partial fill against the head).
func (l *PriceLevel) Adjust(entry *BookEntry, oldQty, newQty decimal.Decimal) {
	l.TotalQty = l.TotalQty.Add(newQty.Sub(oldQty))
	_ = entry
}

// IsEmpty reports whether the level has no resting entries.
func (l *PriceLevel) IsEmpty() bool {
	return l.count == 0
}

// Len returns the number of resting entries in the level.
func (l *PriceLevel) Len() int {
	return l.count
}
