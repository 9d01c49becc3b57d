package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

// Service runs the write side of the inventory screen.
type Service struct {
	store    store.InventoryStore
	seedFile string
	log      logrus.FieldLogger
}

func NewService(s store.InventoryStore, seedFile string, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:    s,
		seedFile: seedFile,
		log:      logger.WithField("component", "inventory_service"),
	}
}

// Save creates the item when the form has no id and overwrites it
// otherwise. On an edit the form's stock is ignored and the stored stock is
// kept; stock of an existing item is left to purchases.
func (s *Service) Save(ctx context.Context, form models.ItemForm) (models.InventoryItem, error) {
	item, err := form.Item()
	if err != nil {
		return models.InventoryItem{}, fmt.Errorf("save item: %w: %v", database.ErrInvalidArgument, err)
	}

	id, err := s.store.PutItem(ctx, item)
	if err != nil {
		return models.InventoryItem{}, fmt.Errorf("save item: %w", err)
	}

	saved, err := s.store.GetItem(ctx, id)
	if err != nil {
		return models.InventoryItem{}, fmt.Errorf("reload item: %w", err)
	}

	s.log.WithFields(logrus.Fields{"item_id": id, "name": saved.Name}).Info("item saved")
	return saved, nil
}

// Delete removes the item. A blank id is ignored.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	s.log.WithField("item_id", id).Info("item deleted")
	return nil
}

// SeedSample writes the seed catalog if the inventory is empty.
func (s *Service) SeedSample(ctx context.Context) (bool, error) {
	items, err := LoadCatalog(s.seedFile)
	if err != nil {
		return false, err
	}

	seeded, err := s.store.SeedIfEmpty(ctx, items)
	if err != nil {
		return false, fmt.Errorf("seed inventory: %w", err)
	}

	if seeded {
		s.log.WithField("items", len(items)).Info("inventory seeded")
	}
	return seeded, nil
}
