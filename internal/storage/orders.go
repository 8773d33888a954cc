package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
)

// SaveOrders upserts orders and their line items. Re-importing the same
// export is idempotent: the order row is refreshed and its items are
// replaced wholesale.
func (s *SQLiteStorage) SaveOrders(ctx context.Context, orders []model.OrderRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOrders(orders); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveOrdersTx(ctx, tx, orders); err != nil {
		return err
	}

	return tx.Commit()
}

func saveOrdersTx(ctx context.Context, q queryable, orders []model.OrderRecord) error {
	orderStmt, err := q.PrepareContext(ctx, `
		INSERT INTO orders (order_id, source, order_date, total_cents, tax_cents, shipping_cents)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			source = excluded.source,
			order_date = excluded.order_date,
			total_cents = excluded.total_cents,
			tax_cents = excluded.tax_cents,
			shipping_cents = excluded.shipping_cents
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare order statement: %w", err)
	}
	defer func() { _ = orderStmt.Close() }()

	itemStmt, err := q.PrepareContext(ctx, `
		INSERT INTO order_items (order_id, sku, description, quantity, unit_price_cents)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item statement: %w", err)
	}
	defer func() { _ = itemStmt.Close() }()

	for i := range orders {
		order := &orders[i]
		_, err = orderStmt.ExecContext(ctx,
			order.OrderID,
			order.Source,
			order.OrderDate,
			order.TotalCents,
			order.TaxCents,
			order.ShippingCents,
		)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", order.OrderID, err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, order.OrderID); err != nil {
			return fmt.Errorf("failed to clear items for order %s: %w", order.OrderID, err)
		}

		for j := range order.Items {
			item := &order.Items[j]
			_, err = itemStmt.ExecContext(ctx,
				order.OrderID,
				item.SKU,
				item.Description,
				item.Quantity,
				item.UnitPriceCents,
			)
			if err != nil {
				return fmt.Errorf("failed to save item for order %s: %w", order.OrderID, err)
			}
		}
	}

	return nil
}

// GetOrders returns all orders with their line items, oldest first.
func (s *SQLiteStorage) GetOrders(ctx context.Context) ([]model.OrderRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getOrdersTx(ctx, s.db)
}

func getOrdersTx(ctx context.Context, q queryable) ([]model.OrderRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, source, order_date, total_cents, tax_cents, shipping_cents
		FROM orders
		ORDER BY order_date ASC, order_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []model.OrderRecord
	index := make(map[string]int)
	for rows.Next() {
		var order model.OrderRecord
		err := rows.Scan(
			&order.OrderID,
			&order.Source,
			&order.OrderDate,
			&order.TotalCents,
			&order.TaxCents,
			&order.ShippingCents,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		index[order.OrderID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachOrderItems(ctx, q, orders, index); err != nil {
		return nil, err
	}

	return orders, nil
}

// attachOrderItems loads all line items in one query and distributes them
// onto the orders slice, avoiding a per-order round trip.
func attachOrderItems(ctx context.Context, q queryable, orders []model.OrderRecord, index map[string]int) error {
	if len(orders) == 0 {
		return nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, sku, description, quantity, unit_price_cents
		FROM order_items
		ORDER BY order_id ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item model.OrderLineItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.SKU,
			&item.Description,
			&item.Quantity,
			&item.UnitPriceCents,
		)
		if err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}

	return rows.Err()
}

// GetOrderByID returns a single order with its line items.
func (s *SQLiteStorage) GetOrderByID(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orderID, "orderID"); err != nil {
		return nil, err
	}
	return getOrderByIDTx(ctx, s.db, orderID)
}

func getOrderByIDTx(ctx context.Context, q queryable, orderID string) (*model.OrderRecord, error) {
	var order model.OrderRecord
	err := q.QueryRowContext(ctx, `
		SELECT order_id, source, order_date, total_cents, tax_cents, shipping_cents
		FROM orders
		WHERE order_id = ?
	`, orderID).Scan(
		&order.OrderID,
		&order.Source,
		&order.OrderDate,
		&order.TotalCents,
		&order.TaxCents,
		&order.ShippingCents,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %q: %w", orderID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, sku, description, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item model.OrderLineItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.SKU,
			&item.Description,
			&item.Quantity,
			&item.UnitPriceCents,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// SaveOrderMatches records reconciliation outcomes, replacing any previous
// match for the same order.
func (s *SQLiteStorage) SaveOrderMatches(ctx context.Context, matches []model.OrderMatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveOrderMatchesTx(ctx, tx, matches); err != nil {
		return err
	}

	return tx.Commit()
}

func saveOrderMatchesTx(ctx context.Context, q queryable, matches []model.OrderMatch) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO order_matches (order_id, transaction_id, amount_diff_cents, date_lag_days, matched_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(order_id) DO UPDATE SET
			transaction_id = excluded.transaction_id,
			amount_diff_cents = excluded.amount_diff_cents,
			date_lag_days = excluded.date_lag_days,
			matched_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range matches {
		m := &matches[i]
		_, err = stmt.ExecContext(ctx, m.OrderID, m.TransactionID, m.AmountDiffCents, m.DateLagDays)
		if err != nil {
			return fmt.Errorf("failed to save match for order %s: %w", m.OrderID, err)
		}
	}

	return nil
}

// GetOrderMatches returns all recorded reconciliation outcomes.
func (s *SQLiteStorage) GetOrderMatches(ctx context.Context) ([]model.OrderMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getOrderMatchesTx(ctx, s.db)
}

func getOrderMatchesTx(ctx context.Context, q queryable) ([]model.OrderMatch, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, transaction_id, amount_diff_cents, date_lag_days, matched_at
		FROM order_matches
		ORDER BY matched_at ASC, order_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query order matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.OrderMatch
	for rows.Next() {
		var m model.OrderMatch
		var txnID sql.NullInt64
		err := rows.Scan(&m.OrderID, &txnID, &m.AmountDiffCents, &m.DateLagDays, &m.MatchedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order match: %w", err)
		}
		if txnID.Valid {
			m.TransactionID = &txnID.Int64
		}
		matches = append(matches, m)
	}

	return matches, rows.Err()
}
