// Package purchase confirms carts as purchase orders and owns the per-session
// cart.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

type Options struct {
	// MaxRetries bounds retries after a version conflict.
	MaxRetries  int
	BaseBackoff time.Duration
	Now         func() time.Time
	NewID       func() string
	Logger      logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		BaseBackoff: 50 * time.Millisecond,
	}
}

// Coordinator commits a purchase as one unit: the order, its lines and the
// stock of every touched item. Stale reads are detected at commit time by
// item version and retried with fresh reads.
type Coordinator struct {
	ledger store.Ledger
	opts   Options
	log    logrus.FieldLogger
}

func NewCoordinator(ledger store.Ledger, opts Options) *Coordinator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultOptions().BaseBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Coordinator{
		ledger: ledger,
		opts:   opts,
		log:    opts.Logger.WithField("component", "purchase_coordinator"),
	}
}

// Confirm records lines as a new order and adds each line's quantity to the
// stock of its item. Prices are the ones captured on the lines.
func (c *Coordinator) Confirm(ctx context.Context, lines []models.CartLine) (models.PurchaseOrder, error) {
	if len(lines) == 0 {
		return models.PurchaseOrder{}, fmt.Errorf("confirm purchase: %w: no lines", database.ErrInvalidArgument)
	}

	deltas := make(map[string]float64, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Item.ID == "" {
			return models.PurchaseOrder{}, fmt.Errorf("confirm purchase: %w: line without item id", database.ErrInvalidArgument)
		}
		if l.Qty <= 0 {
			return models.PurchaseOrder{}, fmt.Errorf("confirm purchase: %w: item %s has quantity %v",
				database.ErrInvalidArgument, l.Item.ID, l.Qty)
		}
		if _, seen := deltas[l.Item.ID]; !seen {
			ids = append(ids, l.Item.ID)
		}
		deltas[l.Item.ID] += l.Qty
	}

	// Ids are fixed up front so a retry after an ambiguous commit failure
	// cannot create a second order.
	commit := store.Commit{
		Order: models.PurchaseOrder{
			ID:        c.opts.NewID(),
			CreatedAt: c.opts.Now().Unix(),
			TotalCost: models.Total(lines),
		},
		Lines: make([]models.PurchaseLine, len(lines)),
	}
	for i, l := range lines {
		commit.Lines[i] = models.PurchaseLine{
			ID:          c.opts.NewID(),
			OrderID:     commit.Order.ID,
			InventoryID: l.Item.ID,
			Qty:         l.Qty,
			UnitPrice:   l.Item.PricePerUnit,
		}
	}

	log := c.log.WithField("order_id", commit.Order.ID)

	policy := database.RetryPolicy{
		MaxRetries:  c.opts.MaxRetries,
		BaseBackoff: c.opts.BaseBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": wait,
			}).Warn("purchase conflicted, retrying")
		},
	}

	var order models.PurchaseOrder
	err := database.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		reads, err := c.ledger.ReadStock(ctx, ids)
		if err != nil {
			return err
		}

		commit.Writes = make([]store.StockWrite, 0, len(ids))
		for _, id := range ids {
			r := reads[id]
			commit.Writes = append(commit.Writes, store.StockWrite{
				ItemID:          id,
				ExpectedVersion: r.Version,
				NewQty:          r.Qty + deltas[id],
			})
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		order, err = c.ledger.Commit(ctx, commit)
		if errors.Is(err, database.ErrOrderExists) {
			log.Info("order already committed")
			return nil
		}
		return err
	})
	if err != nil {
		return models.PurchaseOrder{}, classify(err)
	}

	log.WithFields(logrus.Fields{
		"lines": len(commit.Lines),
		"total": order.TotalCost.StringFixed(2),
	}).Info("purchase committed")
	return order, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, database.ErrVersionConflict), database.IsRetryable(err):
		return fmt.Errorf("confirm purchase: %w: %w", database.ErrTransactionConflict, err)
	case database.IsUnavailable(err) && !errors.Is(err, database.ErrStoreUnavailable):
		return fmt.Errorf("confirm purchase: %w: %w", database.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("confirm purchase: %w", err)
	}
}
