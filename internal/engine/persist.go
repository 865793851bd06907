package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/matchingd/internal/model"
)

// transactional is implemented by store backends that can persist a
// match's trades and order mutations in one transaction. Postgres and
// Cached implement it; Memory falls back to two sequential calls.
type transactional interface {
	SaveMatch(ctx context.Context, trades []*model.Trade, orders []*model.Order) error
}

// retryDelays is the first-tier backoff schedule for a single
// persistence attempt: five tries, waiting 100ms, 400ms, 1.6s and 5s
// between them.
var retryDelays = []time.Duration{
	100 * time.Millisecond,
	400 * time.Millisecond,
	1600 * time.Millisecond,
	5 * time.Second,
}

// persist writes trades (if any) and the touched orders, retrying on
// failure per retryDelays. If every attempt fails, the engine pauses
// itself and starts a second-tier backoff (1s, doubling to a 10s cap)
// that periodically retries the same write in the background; once it
// succeeds the engine un-pauses. Submit/Cancel return ErrPaused to
// callers while paused.
func (e *Engine) persist(ctx context.Context, trades []*model.Trade, orders []*model.Order) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = e.writeOnce(ctx, trades, orders); err == nil {
			return nil
		}
		if attempt == len(retryDelays) {
			break
		}
		delay := retryDelays[attempt]
		slog.Warn("engine: persist failed, retrying", "err", err, "delay", delay)
		time.Sleep(delay)
	}

	slog.Error("engine: persist exhausted retries, pausing", "err", err)
	e.paused.Store(true)
	go e.pauseUntilRecovered(trades, orders)
	return err
}

func (e *Engine) writeOnce(ctx context.Context, trades []*model.Trade, orders []*model.Order) error {
	if tx, ok := e.store.(transactional); ok {
		return tx.SaveMatch(ctx, trades, orders)
	}
	if len(trades) > 0 {
		if err := e.store.SaveTrades(ctx, trades); err != nil {
			return err
		}
	}
	return e.store.SaveOrders(ctx, orders)
}

func (e *Engine) pauseUntilRecovered(trades []*model.Trade, orders []*model.Order) {
	delay := time.Second
	const maxDelay = 10 * time.Second
	for {
		time.Sleep(delay)
		if err := e.writeOnce(context.Background(), trades, orders); err == nil {
			slog.Info("engine: persistence recovered, resuming")
			e.paused.Store(false)
			return
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
