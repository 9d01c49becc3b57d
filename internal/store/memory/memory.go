// Package memory is an in-process backend. Every mutation runs under one
// mutex and republishes the affected collection, so feeds observe changes in
// commit order.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

type Store struct {
	mu          sync.Mutex
	items       map[string]models.InventoryItem
	orders      map[string]models.PurchaseOrder
	lines       map[string][]models.PurchaseLine
	lastOrderAt int64
	closed      bool
	now         func() time.Time

	itemsFeed  *feed.Feed[[]models.InventoryItem]
	ordersFeed *feed.Feed[[]models.PurchaseOrder]
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	s := &Store{
		items:      make(map[string]models.InventoryItem),
		orders:     make(map[string]models.PurchaseOrder),
		lines:      make(map[string][]models.PurchaseLine),
		now:        time.Now,
		itemsFeed:  feed.New[[]models.InventoryItem](nil),
		ordersFeed: feed.New[[]models.PurchaseOrder](nil),
	}
	s.itemsFeed.Publish([]models.InventoryItem{})
	s.ordersFeed.Publish([]models.PurchaseOrder{})
	return s
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Store) SubscribeItems(ctx context.Context) (*feed.Subscription[[]models.InventoryItem], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("subscribe items: %w", database.ErrStoreUnavailable)
	}
	return s.itemsFeed.Subscribe(ctx), nil
}

func (s *Store) SubscribeOrders(ctx context.Context) (*feed.Subscription[[]models.PurchaseOrder], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("subscribe orders: %w", database.ErrStoreUnavailable)
	}
	return s.ordersFeed.Subscribe(ctx), nil
}

func (s *Store) PutItem(ctx context.Context, item models.InventoryItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("put item: %w: %v", database.ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("put item: %w", database.ErrStoreUnavailable)
	}

	if item.ID == "" {
		item.ID = newID()
		item.Version = 1
	} else {
		current, ok := s.items[item.ID]
		if !ok {
			return "", fmt.Errorf("put item %s: %w", item.ID, database.ErrNotFound)
		}
		item.StockQty = current.StockQty
		item.Version = current.Version + 1
	}
	item.UpdatedAt = s.now().UTC()
	s.items[item.ID] = item

	s.publishItemsLocked()
	return item.ID, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("delete item: %w", database.ErrStoreUnavailable)
	}
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("delete item %s: %w", id, database.ErrNotFound)
	}
	delete(s.items, id)

	s.publishItemsLocked()
	return nil
}

func (s *Store) SeedIfEmpty(ctx context.Context, items []models.InventoryItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return false, fmt.Errorf("seed item %q: %w: %v", item.Name, database.ErrInvalidArgument, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("seed items: %w", database.ErrStoreUnavailable)
	}
	if len(s.items) > 0 {
		return false, nil
	}

	now := s.now().UTC()
	for _, item := range items {
		item.ID = newID()
		item.Version = 1
		item.UpdatedAt = now
		s.items[item.ID] = item
	}

	s.publishItemsLocked()
	return true, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (models.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return models.InventoryItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.InventoryItem{}, fmt.Errorf("get item: %w", database.ErrStoreUnavailable)
	}
	item, ok := s.items[id]
	if !ok {
		return models.InventoryItem{}, fmt.Errorf("get item %s: %w", id, database.ErrNotFound)
	}
	return item, nil
}

func (s *Store) ListLines(ctx context.Context, orderID string) ([]models.PurchaseLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("list lines: %w", database.ErrStoreUnavailable)
	}
	if _, ok := s.orders[orderID]; !ok {
		return nil, fmt.Errorf("list lines of order %s: %w", orderID, database.ErrNotFound)
	}
	return append([]models.PurchaseLine(nil), s.lines[orderID]...), nil
}

func (s *Store) ReadStock(ctx context.Context, ids []string) (map[string]store.StockRead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("read stock: %w", database.ErrStoreUnavailable)
	}

	reads := make(map[string]store.StockRead, len(ids))
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok {
			return nil, fmt.Errorf("read stock of item %s: %w", id, database.ErrNotFound)
		}
		reads[id] = store.StockRead{ItemID: id, Qty: item.StockQty, Version: item.Version}
	}
	return reads, nil
}

func (s *Store) Commit(ctx context.Context, c store.Commit) (models.PurchaseOrder, error) {
	if err := ctx.Err(); err != nil {
		return models.PurchaseOrder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.PurchaseOrder{}, fmt.Errorf("commit purchase: %w", database.ErrStoreUnavailable)
	}

	if existing, ok := s.orders[c.Order.ID]; ok {
		return existing, database.ErrOrderExists
	}

	for _, w := range c.Writes {
		item, ok := s.items[w.ItemID]
		if !ok {
			return models.PurchaseOrder{}, fmt.Errorf("commit purchase: item %s: %w", w.ItemID, database.ErrNotFound)
		}
		if item.Version != w.ExpectedVersion {
			return models.PurchaseOrder{}, fmt.Errorf("commit purchase: item %s at version %d, expected %d: %w",
				w.ItemID, item.Version, w.ExpectedVersion, database.ErrVersionConflict)
		}
	}

	// Validation passed; nothing below can fail.
	order := c.Order
	if order.CreatedAt < s.lastOrderAt {
		order.CreatedAt = s.lastOrderAt
	}
	s.lastOrderAt = order.CreatedAt
	s.orders[order.ID] = order

	lines := make([]models.PurchaseLine, len(c.Lines))
	for i, l := range c.Lines {
		l.OrderID = order.ID
		lines[i] = l
	}
	s.lines[order.ID] = lines

	now := s.now().UTC()
	for _, w := range c.Writes {
		item := s.items[w.ItemID]
		item.StockQty = w.NewQty
		item.IsAvailable = true
		item.Version++
		item.UpdatedAt = now
		s.items[w.ItemID] = item
	}

	if len(c.Writes) > 0 {
		s.publishItemsLocked()
	}
	s.publishOrdersLocked()
	return order, nil
}

// Close ends every live subscription with ErrStoreUnavailable and makes all
// later calls fail the same way.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.itemsFeed.Fail(database.ErrStoreUnavailable)
	s.ordersFeed.Fail(database.ErrStoreUnavailable)
	return nil
}

func (s *Store) publishItemsLocked() {
	items := make([]models.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	s.itemsFeed.Publish(items)
}

func (s *Store) publishOrdersLocked() {
	orders := make([]models.PurchaseOrder, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt != orders[j].CreatedAt {
			return orders[i].CreatedAt > orders[j].CreatedAt
		}
		return orders[i].ID > orders[j].ID
	})
	s.ordersFeed.Publish(orders)
}
