package engine

import (
	"github.com/google/uuid"

	"github.com/atmx/matchingd/internal/model"
)

type commandKind int

const (
	cmdPlace commandKind = iota
	cmdCancel
)

// command is the tagged union read by the single worker goroutine.
// Exactly one of place/cancel is populated, selected by kind.
type command struct {
	kind   commandKind
	place  *model.Order
	cancel uuid.UUID
	result chan Result
}

// Result is handed back to the caller that enqueued a command once the
// worker has applied it and persisted the outcome.
type Result struct {
	Order  *model.Order
	Trades []*model.Trade
	Err    error
}
