// Package store defines the collaborators the purchasing core talks to: the
// inventory collection, the order collection and the ledger that commits a
// purchase as one unit. Implementations live in the memory and postgres
// subpackages.
package store

import (
	"context"

	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
)

type InventoryStore interface {
	// SubscribeItems streams full item lists ordered by name. The first value
	// is the current state.
	SubscribeItems(ctx context.Context) (*feed.Subscription[[]models.InventoryItem], error)
	// PutItem creates the item when ID is empty and returns the new id;
	// otherwise it overwrites the stored item, keeping its stock quantity.
	PutItem(ctx context.Context, item models.InventoryItem) (string, error)
	DeleteItem(ctx context.Context, id string) error
	// SeedIfEmpty writes items in one batch only if the collection is empty.
	SeedIfEmpty(ctx context.Context, items []models.InventoryItem) (bool, error)
	GetItem(ctx context.Context, id string) (models.InventoryItem, error)
}

type OrderStore interface {
	// SubscribeOrders streams orders newest first.
	SubscribeOrders(ctx context.Context) (*feed.Subscription[[]models.PurchaseOrder], error)
	ListLines(ctx context.Context, orderID string) ([]models.PurchaseLine, error)
}

type StockRead struct {
	ItemID  string
	Qty     float64
	Version int
}

type StockWrite struct {
	ItemID          string
	ExpectedVersion int
	NewQty          float64
}

// Commit is everything one purchase confirmation writes.
type Commit struct {
	Order  models.PurchaseOrder
	Lines  []models.PurchaseLine
	Writes []StockWrite
}

// Ledger is the atomic unit backend. Commit applies all of c or nothing and
// fails with database.ErrVersionConflict when any written item moved past
// its expected version, or database.ErrOrderExists (returning the stored
// order) when the order id was already committed.
type Ledger interface {
	ReadStock(ctx context.Context, ids []string) (map[string]StockRead, error)
	Commit(ctx context.Context, c Commit) (models.PurchaseOrder, error)
}

type Backend interface {
	InventoryStore
	OrderStore
	Ledger
	Close() error
}
