package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

// orderLockKey serializes order inserts so created_at never goes backwards.
const orderLockKey = 0x6f72646572

// ListOrders returns every order newest first, ties by id descending.
func ListOrders(ctx context.Context, q querier) ([]models.PurchaseOrder, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, created_at, total_cost
		FROM purchase_orders
		ORDER BY created_at DESC, id COLLATE "C" DESC`)
	if err != nil {
		return nil, wrapErr("list orders", err)
	}
	defer rows.Close()

	orders := []models.PurchaseOrder{}
	for rows.Next() {
		var order models.PurchaseOrder
		if err := rows.Scan(&order.ID, &order.CreatedAt, &order.TotalCost); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate orders", err)
	}

	return orders, nil
}

func (s *Store) ListLines(ctx context.Context, orderID string) ([]models.PurchaseLine, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return nil, wrapErr("check order", err)
	}
	if !exists {
		return nil, fmt.Errorf("list lines of order %s: %w", orderID, database.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, inventory_id, qty, unit_price
		FROM purchase_lines
		WHERE order_id = $1
		ORDER BY position`, orderID)
	if err != nil {
		return nil, wrapErr("list lines", err)
	}
	defer rows.Close()

	lines := []models.PurchaseLine{}
	for rows.Next() {
		var line models.PurchaseLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.InventoryID, &line.Qty, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate lines", err)
	}

	return lines, nil
}

func (s *Store) ReadStock(ctx context.Context, ids []string) (map[string]store.StockRead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock_qty, version
		FROM inventory_items
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("read stock", err)
	}
	defer rows.Close()

	reads := make(map[string]store.StockRead, len(ids))
	for rows.Next() {
		var r store.StockRead
		if err := rows.Scan(&r.ItemID, &r.Qty, &r.Version); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		reads[r.ItemID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate stock", err)
	}

	for _, id := range ids {
		if _, ok := reads[id]; !ok {
			return nil, fmt.Errorf("read stock of item %s: %w", id, database.ErrNotFound)
		}
	}
	return reads, nil
}

func (s *Store) Commit(ctx context.Context, c store.Commit) (models.PurchaseOrder, error) {
	var order models.PurchaseOrder

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, orderLockKey); err != nil {
			return fmt.Errorf("lock orders: %w", err)
		}

		order = c.Order
		err := tx.QueryRowContext(ctx, `
			INSERT INTO purchase_orders (id, created_at, total_cost)
			SELECT $1::TEXT, GREATEST($2::BIGINT, MAX(created_at)), $3::NUMERIC
			FROM purchase_orders
			ON CONFLICT (id) DO NOTHING
			RETURNING created_at`,
			c.Order.ID, c.Order.CreatedAt, c.Order.TotalCost).Scan(&order.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := getOrder(ctx, tx, c.Order.ID)
			if err != nil {
				return err
			}
			order = existing
			return database.ErrOrderExists
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, line := range c.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_lines (id, order_id, inventory_id, qty, unit_price, position)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				line.ID, order.ID, line.InventoryID, line.Qty, line.UnitPrice, i)
			if err != nil {
				return fmt.Errorf("insert line %s: %w", line.ID, err)
			}
		}

		for _, w := range c.Writes {
			if err := writeStock(ctx, tx, w); err != nil {
				return err
			}
		}

		return nil
	})
	if errors.Is(err, database.ErrOrderExists) {
		return order, err
	}
	if err != nil {
		return models.PurchaseOrder{}, wrapErr("commit purchase", err)
	}

	return order, nil
}

func getOrder(ctx context.Context, q querier, id string) (models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	err := q.QueryRowContext(ctx, `
		SELECT id, created_at, total_cost
		FROM purchase_orders
		WHERE id = $1`, id).Scan(&order.ID, &order.CreatedAt, &order.TotalCost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PurchaseOrder{}, fmt.Errorf("get order %s: %w", id, database.ErrNotFound)
		}
		return models.PurchaseOrder{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func writeStock(ctx context.Context, tx *sql.Tx, w store.StockWrite) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET stock_qty = $1, is_available = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		w.NewQty, w.ItemID, w.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, w.ItemID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return fmt.Errorf("item %s: %w", w.ItemID, database.ErrNotFound)
	}
	return fmt.Errorf("item %s moved past version %d: %w", w.ItemID, w.ExpectedVersion, database.ErrVersionConflict)
}
