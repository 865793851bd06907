package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/matchingd/internal/model"
)

// Postgres implements Store using PostgreSQL as the source of truth.
// Price and quantity columns are NUMERIC, round-tripped through
// decimal strings to avoid any float64 conversion.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, client_id, instrument, side, type, price, quantity, filled_quantity, status, idempotency_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		o.ID, o.ClientID, o.Instrument, o.Side, o.Kind,
		priceString(o.Price), o.Quantity.String(), o.FilledQuantity.String(),
		o.Status, o.IdempotencyKey, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *Postgres) FindByIdempotencyKey(ctx context.Context, clientID, key string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, selectOrderCols+` WHERE client_id = $1 AND idempotency_key = $2`, clientID, key)
	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return o, nil
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, selectOrderCols+` WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	return o, nil
}

func (s *Postgres) SaveOrders(ctx context.Context, orders []*model.Order) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return saveOrdersTx(ctx, tx, orders)
	})
}

func (s *Postgres) SaveTrades(ctx context.Context, trades []*model.Trade) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return saveTradesTx(ctx, tx, trades)
	})
}

// SaveMatch persists the trades produced by one matching pass and the
// resulting order mutations in a single transaction, trades first
// then orders, matching the engine's write order. Not part of the
// Store interface: the engine prefers this when the concrete type
// supports it, falling back to two separate calls otherwise (see
// engine.persist).
func (s *Postgres) SaveMatch(ctx context.Context, trades []*model.Trade, orders []*model.Order) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := saveTradesTx(ctx, tx, trades); err != nil {
			return err
		}
		return saveOrdersTx(ctx, tx, orders)
	})
}

func (s *Postgres) ScanLiveOrders(ctx context.Context) ([]*model.Order, error) {
	rows, err := s.pool.Query(ctx,
		selectOrderCols+` WHERE status IN ('OPEN', 'PARTIALLY_FILLED') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var live []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		live = append(live, o)
	}
	return live, rows.Err()
}

func (s *Postgres) ListTrades(ctx context.Context, instrument string, limit int) ([]*model.Trade, error) {
	var rows pgx.Rows
	var err error
	if instrument == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, buy_order_id, sell_order_id, instrument, price::TEXT, quantity::TEXT, executed_at
			 FROM trades ORDER BY executed_at DESC LIMIT $1`,
			limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, buy_order_id, sell_order_id, instrument, price::TEXT, quantity::TEXT, executed_at
			 FROM trades WHERE instrument = $1 ORDER BY executed_at DESC LIMIT $2`,
			instrument, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*model.Trade
	for rows.Next() {
		var t model.Trade
		var priceS, qtyS string
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.Instrument, &priceS, &qtyS, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func saveOrdersTx(ctx context.Context, tx pgx.Tx, orders []*model.Order) error {
	for _, o := range orders {
		_, err := tx.Exec(ctx,
			`UPDATE orders SET filled_quantity = $2::NUMERIC, status = $3, updated_at = $4 WHERE id = $1`,
			o.ID, o.FilledQuantity.String(), o.Status, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save order %s: %w", o.ID, err)
		}
	}
	return nil
}

func saveTradesTx(ctx context.Context, tx pgx.Tx, trades []*model.Trade) error {
	for _, t := range trades {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (id, buy_order_id, sell_order_id, instrument, price, quantity, executed_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			t.ID, t.BuyOrderID, t.SellOrderID, t.Instrument,
			t.Price.String(), t.Quantity.String(), t.ExecutedAt)
		if err != nil {
			return fmt.Errorf("save trade %s: %w", t.ID, err)
		}
	}
	return nil
}

const selectOrderCols = `
	SELECT id, client_id, instrument, side, type,
	       price::TEXT, quantity::TEXT, filled_quantity::TEXT,
	       status, idempotency_key, created_at, updated_at
	FROM orders`

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row pgxRow) (*model.Order, error) {
	var o model.Order
	var priceS sql.NullString
	var qtyS, filledS string

	err := row.Scan(&o.ID, &o.ClientID, &o.Instrument, &o.Side, &o.Kind,
		&priceS, &qtyS, &filledS,
		&o.Status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if priceS.Valid {
		o.Price, _ = decimal.NewFromString(priceS.String)
	}
	o.Quantity, _ = decimal.NewFromString(qtyS)
	o.FilledQuantity, _ = decimal.NewFromString(filledS)
	return &o, nil
}

// priceString renders a MARKET order's zero-value price as NULL so
// the column stays empty rather than storing a spurious "0".
func priceString(p decimal.Decimal) interface{} {
	if p.IsZero() {
		return nil
	}
	return p.String()
}
