package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/book"
	"github.com/atmx/matchingd/internal/model"
)

// crosses reports whether a resting level at levelPrice is reachable
// by an incoming LIMIT order on side at limitPrice.
func crosses(side model.Side, limitPrice, levelPrice decimal.Decimal) bool {
	if side == model.SideBuy {
		return limitPrice.GreaterThanOrEqual(levelPrice)
	}
	return limitPrice.LessThanOrEqual(levelPrice)
}

func bestOpposite(ob *book.OrderBook, side model.Side) *book.PriceLevel {
	if side == model.SideBuy {
		return ob.BestAskLevel()
	}
	return ob.BestBidLevel()
}

// fillAgainst walks the opposite side of ob, consuming up to
// order.Remaining, stopping when exhausted, the book runs dry, or (for
// LIMIT orders) the next level no longer crosses. Returns the trades
// generated and the resting maker orders it touched (for persistence
// and event publication); it mutates ob directly but never calls
// Publish, leaving that to the caller.
func fillAgainst(ob *book.OrderBook, order *model.Order, limited bool, live map[uuid.UUID]*liveOrder) ([]*model.Trade, []*model.Order) {
	var trades []*model.Trade
	var touched []*model.Order
	now := time.Now().UTC()

	for order.Remaining().IsPositive() {
		level := bestOpposite(ob, order.Side)
		if level == nil {
			break
		}
		if limited && !crosses(order.Side, order.Price, level.Price) {
			break
		}
		head := level.Head()
		if head == nil {
			break
		}

		maker := live[head.OrderID].order
		tradeQty := decimal.Min(order.Remaining(), head.Remaining)

		trade := &model.Trade{
			ID:         uuid.New(),
			Instrument: order.Instrument,
			Price:      level.Price,
			Quantity:   tradeQty,
			ExecutedAt: now,
		}
		if order.Side == model.SideBuy {
			trade.BuyOrderID, trade.SellOrderID = order.ID, maker.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = maker.ID, order.ID
		}
		trades = append(trades, trade)

		order.FilledQuantity = order.FilledQuantity.Add(tradeQty)
		maker.FilledQuantity = maker.FilledQuantity.Add(tradeQty)
		maker.UpdatedAt = now

		newMakerRemaining := head.Remaining.Sub(tradeQty)
		if newMakerRemaining.IsZero() {
			maker.Status = model.StatusFilled
			ob.RemoveFilledEntry(head)
			delete(live, head.OrderID)
		} else {
			maker.Status = model.StatusPartiallyFilled
			ob.UpdateRemaining(head.OrderID, newMakerRemaining)
		}
		touched = append(touched, maker)
	}

	return trades, touched
}

// matchLimit applies a LIMIT order: matches against the crossing
// portion of the opposite book, then rests any remainder at its own
// price.
func matchLimit(ob *book.OrderBook, order *model.Order, live map[uuid.UUID]*liveOrder) ([]*model.Trade, []*model.Order) {
	trades, touched := fillAgainst(ob, order, true, live)

	switch {
	case order.Remaining().IsZero():
		order.Status = model.StatusFilled
	default:
		if order.FilledQuantity.IsPositive() {
			order.Status = model.StatusPartiallyFilled
		} else {
			order.Status = model.StatusOpen
		}
		order.UpdatedAt = time.Now().UTC()
		ob.AddLimit(order.ID, order.Side, order.Price, order.Remaining(), order.CreatedAt, order.ClientID)
		live[order.ID] = &liveOrder{order: order, instrument: order.Instrument}
	}
	order.UpdatedAt = time.Now().UTC()

	return trades, touched
}

// matchMarket applies a MARKET order: matches against the opposite
// book with no price limit, up to its full quantity, and never rests.
// A MARKET order that finds no liquidity (or only partial liquidity)
// is set to PARTIALLY_FILLED even when filled_quantity is zero — a
// market order that found no liquidity is a fully accepted order that
// simply filled zero, not an invalid one.
func matchMarket(ob *book.OrderBook, order *model.Order, live map[uuid.UUID]*liveOrder) ([]*model.Trade, []*model.Order) {
	trades, touched := fillAgainst(ob, order, false, live)

	if order.Remaining().IsZero() {
		order.Status = model.StatusFilled
	} else {
		order.Status = model.StatusPartiallyFilled
	}
	order.UpdatedAt = time.Now().UTC()

	return trades, touched
}
