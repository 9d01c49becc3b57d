package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `id, name, unit, category, stock_qty, reorder_level, price_per_unit, image_uri, is_available, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.InventoryItem, error) {
	var (
		item     models.InventoryItem
		category string
		imageURI sql.NullString
	)
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Unit,
		&category,
		&item.StockQty,
		&item.ReorderLevel,
		&item.PricePerUnit,
		&imageURI,
		&item.IsAvailable,
		&item.Version,
		&item.UpdatedAt,
	)
	if err != nil {
		return models.InventoryItem{}, err
	}
	item.Category = models.Category(category)
	if imageURI.Valid {
		item.ImageURI = &imageURI.String
	}
	return item, nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ListItems returns every item ordered by name in byte order, ties by id.
func ListItems(ctx context.Context, q querier) ([]models.InventoryItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		ORDER BY name COLLATE "C", id`)
	if err != nil {
		return nil, wrapErr("list items", err)
	}
	defer rows.Close()

	items := []models.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate items", err)
	}

	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (models.InventoryItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.InventoryItem{}, fmt.Errorf("get item %s: %w", id, database.ErrNotFound)
		}
		return models.InventoryItem{}, wrapErr("get item", err)
	}
	return item, nil
}

func (s *Store) PutItem(ctx context.Context, item models.InventoryItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("put item: %w: %v", database.ErrInvalidArgument, err)
	}

	if item.ID == "" {
		return s.insertItem(ctx, item)
	}

	// Edits overwrite descriptive fields only; stock belongs to purchases.
	result, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $1, unit = $2, category = $3, reorder_level = $4,
		    price_per_unit = $5, image_uri = $6, is_available = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $8`,
		item.Name, item.Unit, string(item.Category), item.ReorderLevel,
		item.PricePerUnit, nullString(item.ImageURI), item.IsAvailable, item.ID)
	if err != nil {
		return "", wrapErr("update item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return "", fmt.Errorf("put item %s: %w", item.ID, database.ErrNotFound)
	}

	return item.ID, nil
}

func (s *Store) insertItem(ctx context.Context, item models.InventoryItem) (string, error) {
	id := newID()
	if err := insertItem(ctx, s.db, id, item); err != nil {
		return "", err
	}
	return id, nil
}

func insertItem(ctx context.Context, q querier, id string, item models.InventoryItem) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_items
			(id, name, unit, category, stock_qty, reorder_level, price_per_unit, image_uri, is_available, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW(), NOW())`,
		id, item.Name, item.Unit, string(item.Category), item.StockQty, item.ReorderLevel,
		item.PricePerUnit, nullString(item.ImageURI), item.IsAvailable)
	if err != nil {
		return wrapErr("insert item", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("delete item %s: %w", id, database.ErrNotFound)
	}

	return nil
}

// SeedIfEmpty inserts items in one serializable transaction, so two
// concurrent seeders cannot both see an empty table.
func (s *Store) SeedIfEmpty(ctx context.Context, items []models.InventoryItem) (bool, error) {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return false, fmt.Errorf("seed item %q: %w: %v", item.Name, database.ErrInvalidArgument, err)
		}
	}

	opts := database.DefaultTxOptions()
	opts.IsolationLevel = sql.LevelSerializable

	var seeded bool
	err := database.WithRetry(ctx, s.db, opts, func(tx *sql.Tx) error {
		seeded = false

		var empty bool
		if err := tx.QueryRowContext(ctx, `SELECT NOT EXISTS (SELECT 1 FROM inventory_items)`).Scan(&empty); err != nil {
			return fmt.Errorf("check inventory empty: %w", err)
		}
		if !empty {
			return nil
		}

		for _, item := range items {
			if err := insertItem(ctx, tx, newID(), item); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, wrapErr("seed items", err)
	}

	return seeded, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
