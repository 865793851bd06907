package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/model"
)

// Recover scans the store for every order left OPEN or
// PARTIALLY_FILLED by a prior crash and replays it into fresh
// in-memory order books, oldest first, so price-time priority is
// reconstructed exactly as it was before the crash. Must run once,
// to completion, before Run starts consuming new commands.
func (e *Engine) Recover(ctx context.Context) error {
	live, err := e.store.ScanLiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("recover: scan live orders: %w", err)
	}

	for _, o := range live {
		if o.Remaining().LessThanOrEqual(decimal.Zero) {
			// remaining <= 0: fully filled in all but name, nothing to
			// restore. Log and skip per the recovery procedure.
			slog.Warn("recover: skipping live order with no remaining quantity", "order_id", o.ID)
			continue
		}

		if o.Kind != model.KindLimit {
			if o.FilledQuantity.IsPositive() {
				// A partially-filled MARKET row is an anomaly: MARKET
				// orders resolve synchronously and never rest, so a
				// live one with a partial fill means the process died
				// mid-command. Log and drop it; it is not tracked.
				slog.Warn("recover: dropping anomalous partially-filled market order", "order_id", o.ID)
				continue
			}
			// Crashed between InsertOrder and the engine finishing the
			// command. It never entered a book (MARKET orders don't
			// rest), but stays addressable via e.live so a subsequent
			// Cancel still finds it.
			e.live[o.ID] = &liveOrder{order: o, instrument: o.Instrument}
			continue
		}
		ob := e.getOrCreateBook(o.Instrument)
		ob.AddLimit(o.ID, o.Side, o.Price, o.Remaining(), o.CreatedAt, o.ClientID)
		e.live[o.ID] = &liveOrder{order: o, instrument: o.Instrument}
	}

	for _, ob := range e.books {
		ob.Publish()
		e.refreshSnapshot(ob)
	}

	return nil
}
