// Package history joins the live order feed with each order's lines.
package history

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

// maxConcurrentFetches bounds ListLines calls in flight per snapshot.
const maxConcurrentFetches = 8

type Projector struct {
	orders store.OrderStore
	log    logrus.FieldLogger
}

func NewProjector(orders store.OrderStore, logger logrus.FieldLogger) *Projector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Projector{
		orders: orders,
		log:    logger.WithField("component", "history_projector"),
	}
}

// Subscribe streams every order, newest first, with its lines. If the lines
// of any order cannot be fetched the subscription ends with that error; the
// caller subscribes again to retry.
func (p *Projector) Subscribe(ctx context.Context) (*feed.Subscription[[]models.OrderWithLines], error) {
	runCtx, cancel := context.WithCancel(ctx)

	up, err := p.orders.SubscribeOrders(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe history: %w", err)
	}

	out := feed.New[[]models.OrderWithLines](func() {
		cancel()
		up.Close()
	})
	sub := out.Subscribe(ctx)

	go p.run(runCtx, cancel, up, out)
	return sub, nil
}

func (p *Projector) run(ctx context.Context, cancel context.CancelFunc, up *feed.Subscription[[]models.PurchaseOrder], out *feed.Feed[[]models.OrderWithLines]) {
	defer cancel()

	for orders := range up.C() {
		joined, err := p.join(ctx, orders)
		if err != nil {
			if ctx.Err() == nil {
				p.log.WithError(err).Error("history join failed")
			}
			out.Fail(err)
			up.Close()
			return
		}
		out.Publish(joined)
	}

	if err := up.Err(); err != nil {
		p.log.WithError(err).Error("order feed failed")
		out.Fail(err)
		return
	}
	out.Close()
}

// join fetches lines for all orders; it fails as a whole if any fetch fails.
func (p *Projector) join(ctx context.Context, orders []models.PurchaseOrder) ([]models.OrderWithLines, error) {
	joined := make([]models.OrderWithLines, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, order := range orders {
		g.Go(func() error {
			lines, err := p.orders.ListLines(gctx, order.ID)
			if err != nil {
				return fmt.Errorf("lines of order %s: %w", order.ID, err)
			}
			joined[i] = models.OrderWithLines{Order: order, Lines: lines}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return joined, nil
}
