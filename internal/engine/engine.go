// Package engine implements the single-writer matching engine: one
// worker goroutine drains a bounded command queue and is the only
// goroutine that ever mutates an instrument's order book. Every other
// goroutine (HTTP handlers, the event sink) only submits commands or
// reads a published book.Snapshot.
//
// The single-writer shape follows realmfikri-Limitless's OrderBook
// worker loop (a dedicated goroutine reading a request channel); the
// price-time matching and persistence steps are this repo's own, not
// the teacher's, since the teacher (AMOORCHING-ATMX) has no matching
// engine to generalize.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/book"
	"github.com/atmx/matchingd/internal/events"
	"github.com/atmx/matchingd/internal/metrics"
	"github.com/atmx/matchingd/internal/model"
	"github.com/atmx/matchingd/internal/store"
)

// DefaultQueueCapacity is the bounded command queue's default size.
const DefaultQueueCapacity = 10000

// ErrQueueFull is returned by Submit/Cancel when the command queue is
// saturated; intake surfaces this as a 507 to clients.
var ErrQueueFull = errors.New("engine: command queue full")

// ErrPaused is returned when the engine has paused itself after
// exhausting persistence retries.
var ErrPaused = errors.New("engine: paused after repeated persistence failures")

// ErrOrderNotFound is returned by Cancel when the engine does not track
// the order and the store either has no such order or holds it in a
// non-terminal status.
var ErrOrderNotFound = errors.New("engine: order not found")

// liveOrder tracks a live order's owning instrument so Cancel can find
// its book without scanning every instrument. Live orders are resting
// LIMIT orders plus unfilled MARKET orders registered by Recover.
type liveOrder struct {
	order      *model.Order
	instrument string
}

// Engine owns one OrderBook per instrument and the single goroutine
// permitted to mutate any of them.
type Engine struct {
	store  store.Store
	events *events.Sink

	queue chan command

	// books and live are exclusively owned and mutated by the worker
	// goroutine (applyPlace/applyCancel/Recover, all single-threaded
	// per spec §5). snapshots is the only state other goroutines may
	// touch: a registry of atomically-published per-instrument views,
	// keyed the same as books, kept in lockstep with it by the worker.
	books     map[string]*book.OrderBook
	live      map[uuid.UUID]*liveOrder
	snapshots sync.Map // instrument string -> *atomic.Pointer[book.Snapshot]

	paused atomic.Bool
	done   chan struct{}
}

// New creates an Engine with a queue of the given capacity (0 uses
// DefaultQueueCapacity). Call Run in its own goroutine to start
// consuming commands, after Recover has replayed prior state.
func New(st store.Store, sink *events.Sink, capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Engine{
		store:  st,
		events: sink,
		queue:  make(chan command, capacity),
		books:  make(map[string]*book.OrderBook),
		live:   make(map[uuid.UUID]*liveOrder),
		done:   make(chan struct{}),
	}
}

// Submit enqueues a previously-persisted order for matching. The
// order must already exist in the store in status OPEN
// (persist-before-enqueue). Blocks until the worker has applied it.
func (e *Engine) Submit(ctx context.Context, order *model.Order) (Result, error) {
	return e.enqueue(ctx, command{kind: cmdPlace, place: order})
}

// Cancel enqueues a cancel request for orderID. Blocks until the
// worker has applied it.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (Result, error) {
	return e.enqueue(ctx, command{kind: cmdCancel, cancel: orderID})
}

func (e *Engine) enqueue(ctx context.Context, cmd command) (Result, error) {
	if e.paused.Load() {
		return Result{}, ErrPaused
	}
	cmd.result = make(chan Result, 1)

	select {
	case e.queue <- cmd:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
		return Result{}, ErrQueueFull
	}

	metrics.QueueDepth.Set(float64(len(e.queue)))

	select {
	case res := <-cmd.result:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// QueueDepth reports the current number of queued, unprocessed
// commands.
func (e *Engine) QueueDepth() int { return len(e.queue) }

// Paused reports whether the engine has stopped processing commands
// after exhausting persistence retries.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Snapshot returns the published book view for instrument, or an
// empty snapshot if the instrument has no book yet. Safe to call from
// any goroutine: it only ever touches the snapshots registry, never
// the worker-owned books map (spec §5: "the snapshot reference is the
// only cross-thread shared state").
func (e *Engine) Snapshot(instrument string, depth int) book.Snapshot {
	v, ok := e.snapshots.Load(instrument)
	if !ok {
		return book.Snapshot{Instrument: instrument, SnapshotTime: time.Now().UTC()}
	}
	ptr := v.(*atomic.Pointer[book.Snapshot])
	s := ptr.Load()
	if s == nil {
		return book.Snapshot{Instrument: instrument, SnapshotTime: time.Now().UTC()}
	}
	return s.Trim(depth)
}

// Run starts the worker loop. Blocks until ctx is cancelled; on
// cancellation it waits up to 5 seconds for the queue to drain before
// returning, per the shutdown protocol.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case cmd := <-e.queue:
			e.apply(ctx, cmd)
			metrics.QueueDepth.Set(float64(len(e.queue)))
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

func (e *Engine) drain() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cmd := <-e.queue:
			e.apply(context.Background(), cmd)
		case <-deadline:
			remaining := len(e.queue)
			if remaining > 0 {
				slog.Warn("engine shutdown: abandoning queued commands", "remaining", remaining)
			}
			return
		default:
			return
		}
	}
}

func (e *Engine) apply(ctx context.Context, cmd command) {
	start := time.Now()
	var res Result
	switch cmd.kind {
	case cmdPlace:
		res = e.applyPlace(ctx, cmd.place)
	case cmdCancel:
		res = e.applyCancel(ctx, cmd.cancel)
	}
	metrics.CommandLatency.WithLabelValues(commandLabel(cmd.kind)).Observe(time.Since(start).Seconds())
	cmd.result <- res
}

func commandLabel(k commandKind) string {
	if k == cmdPlace {
		return "place"
	}
	return "cancel"
}

func (e *Engine) getOrCreateBook(instrument string) *book.OrderBook {
	ob, ok := e.books[instrument]
	if !ok {
		ob = book.NewOrderBook(instrument)
		e.books[instrument] = ob
		e.snapshots.Store(instrument, new(atomic.Pointer[book.Snapshot]))
		e.refreshSnapshot(ob)
	}
	return ob
}

// refreshSnapshot republishes instrument's full snapshot into the
// cross-goroutine registry. Called by the worker goroutine immediately
// after every ob.Publish() so readers never see a stale or partially
// applied book. Must only be called with an instrument already
// registered by getOrCreateBook.
func (e *Engine) refreshSnapshot(ob *book.OrderBook) {
	v, _ := e.snapshots.Load(ob.Instrument)
	ptr := v.(*atomic.Pointer[book.Snapshot])
	full := ob.Snapshot(book.MaxSnapshotDepth)
	ptr.Store(&full)
}

func (e *Engine) applyPlace(ctx context.Context, order *model.Order) Result {
	if err := validate(order); err != nil {
		order.Status = model.StatusRejected
		order.UpdatedAt = time.Now().UTC()
		if perr := e.persist(ctx, nil, []*model.Order{order}); perr != nil {
			return Result{Err: perr}
		}
		e.events.PublishOrderStateChange(order)
		return Result{Order: order}
	}

	ob := e.getOrCreateBook(order.Instrument)

	var trades []*model.Trade
	var touched []*model.Order
	if order.Kind == model.KindMarket {
		trades, touched = matchMarket(ob, order, e.live)
	} else {
		trades, touched = matchLimit(ob, order, e.live)
	}

	toSave := append(touched, order)
	if err := e.persist(ctx, trades, toSave); err != nil {
		return Result{Err: err}
	}

	ob.Publish()
	e.refreshSnapshot(ob)
	for _, t := range trades {
		e.events.PublishTrade(t)
	}
	for _, o := range toSave {
		e.events.PublishOrderStateChange(o)
	}
	e.events.PublishOrderBookDelta(ob.Snapshot(book.DefaultBroadcastDepth))
	metrics.TradesTotal.Add(float64(len(trades)))

	return Result{Order: order, Trades: trades}
}

func (e *Engine) applyCancel(ctx context.Context, orderID uuid.UUID) Result {
	lo, ok := e.live[orderID]
	if !ok {
		o, err := e.store.FindByID(ctx, orderID)
		if err != nil {
			return Result{Err: fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)}
		}
		if !o.Status.Terminal() {
			// The store has a non-terminal row the engine itself isn't
			// tracking — an anomaly (e.g. Recover dropped it) rather
			// than the ordinary "already settled" case below. The
			// engine cannot act on an order it doesn't own.
			return Result{Err: fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)}
		}
		// Terminal-state cancel is a silent engine no-op (decided
		// open question): echo current state, nothing to persist.
		return Result{Order: o}
	}

	// A MARKET order only ever reaches e.live via Recover (it crashed
	// mid-command before persisting its terminal state) and never had a
	// book entry to remove — MARKET orders don't rest.
	var ob *book.OrderBook
	if lo.order.Kind == model.KindLimit {
		ob = e.books[lo.instrument]
		ob.Cancel(orderID)
	}

	lo.order.Status = model.StatusCancelled
	lo.order.UpdatedAt = time.Now().UTC()

	if err := e.persist(ctx, nil, []*model.Order{lo.order}); err != nil {
		return Result{Err: err}
	}
	delete(e.live, orderID)

	e.events.PublishOrderStateChange(lo.order)
	if ob != nil {
		ob.Publish()
		e.refreshSnapshot(ob)
		e.events.PublishOrderBookDelta(ob.Snapshot(book.DefaultBroadcastDepth))
	}

	return Result{Order: lo.order}
}

func validate(o *model.Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("invalid order type %q", o.Kind)
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.New("quantity must be positive")
	}
	if o.Kind == model.KindLimit && o.Price.LessThanOrEqual(decimal.Zero) {
		return errors.New("limit order price must be positive")
	}
	return nil
}
