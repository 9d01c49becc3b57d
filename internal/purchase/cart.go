package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/inventory"
	"github.com/safar/foodmanager/internal/models"
)

var ErrCartClosed = errors.New("cart closed")

const catalogRetryDelay = time.Second

// Confirmer is satisfied by *Coordinator.
type Confirmer interface {
	Confirm(ctx context.Context, lines []models.CartLine) (models.PurchaseOrder, error)
}

// CatalogSource is satisfied by *inventory.Engine.
type CatalogSource interface {
	Subscribe(ctx context.Context) (*feed.Subscription[inventory.View], error)
}

type State struct {
	Catalog []models.InventoryItem `json:"catalog"`
	Lines   []models.CartLine      `json:"lines"`
	Total   decimal.Decimal        `json:"total"`
}

type ConfirmResult struct {
	Order   models.PurchaseOrder `json:"order"`
	Lines   []models.CartLine    `json:"lines"`
	Skipped bool                 `json:"skipped"`
}

type action int

const (
	actionIncrement action = iota
	actionDecrement
	actionConfirm
	actionState
)

type command struct {
	ctx    context.Context
	action action
	item   models.InventoryItem
	reply  chan commandResult
}

type commandResult struct {
	state   State
	confirm ConfirmResult
	err     error
}

// Cart is owned by one goroutine started with Run. Increment, Decrement and
// Confirm are applied one at a time, so a confirm never interleaves with a
// quantity change.
type Cart struct {
	confirmer Confirmer
	catalog   CatalogSource
	log       logrus.FieldLogger
	states    *feed.Feed[State]

	commands  chan command
	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func NewCart(confirmer Confirmer, catalog CatalogSource, logger logrus.FieldLogger) *Cart {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cart{
		confirmer: confirmer,
		catalog:   catalog,
		log:       logger.WithField("component", "cart"),
		states:    feed.New[State](nil),
		commands:  make(chan command),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// cartState is only touched by the Run goroutine.
type cartState struct {
	lines   []models.CartLine
	catalog []models.InventoryItem
}

func (s *cartState) snapshot() State {
	catalog := s.catalog
	if catalog == nil {
		catalog = []models.InventoryItem{}
	}
	return State{
		Catalog: catalog,
		Lines:   append([]models.CartLine{}, s.lines...),
		Total:   models.Total(s.lines),
	}
}

func (s *cartState) index(id string) int {
	for i, l := range s.lines {
		if l.Item.ID == id {
			return i
		}
	}
	return -1
}

// Run processes commands until ctx ends or Close is called.
func (c *Cart) Run(ctx context.Context) {
	defer close(c.done)
	defer c.states.Close()

	var (
		state      cartState
		catalogSub *feed.Subscription[inventory.View]
		catalogC   <-chan inventory.View
		retry      <-chan time.Time
	)
	defer func() {
		if catalogSub != nil {
			catalogSub.Close()
		}
	}()

	subscribe := func() {
		sub, err := c.catalog.Subscribe(ctx)
		if err != nil {
			c.log.WithError(err).Error("subscribe catalog")
			retry = time.After(catalogRetryDelay)
			return
		}
		catalogSub, catalogC, retry = sub, sub.C(), nil
	}

	c.states.Publish(state.snapshot())
	subscribe()

	for {
		select {
		case cmd := <-c.commands:
			res := c.apply(&state, cmd)
			cmd.reply <- res
			if res.err == nil && cmd.action != actionState {
				c.states.Publish(state.snapshot())
			}

		case v, ok := <-catalogC:
			if !ok {
				if err := catalogSub.Err(); err != nil {
					c.log.WithError(err).Error("catalog feed ended")
				}
				catalogSub, catalogC = nil, nil
				retry = time.After(catalogRetryDelay)
				continue
			}
			state.catalog = v.Items
			c.states.Publish(state.snapshot())

		case <-retry:
			subscribe()

		case <-ctx.Done():
			return
		case <-c.quit:
			return
		}
	}
}

func (c *Cart) apply(state *cartState, cmd command) commandResult {
	switch cmd.action {
	case actionIncrement:
		if i := state.index(cmd.item.ID); i >= 0 {
			state.lines[i].Qty++
		} else {
			state.lines = append(state.lines, models.CartLine{Item: cmd.item, Qty: 1})
		}
		return commandResult{state: state.snapshot()}

	case actionDecrement:
		if i := state.index(cmd.item.ID); i >= 0 {
			state.lines[i].Qty--
			if state.lines[i].Qty <= 0 {
				state.lines = append(state.lines[:i], state.lines[i+1:]...)
			}
		}
		return commandResult{state: state.snapshot()}

	case actionConfirm:
		if len(state.lines) == 0 {
			return commandResult{confirm: ConfirmResult{Skipped: true}}
		}
		lines := append([]models.CartLine{}, state.lines...)
		order, err := c.confirmer.Confirm(cmd.ctx, lines)
		if err != nil {
			c.log.WithError(err).Warn("confirm failed, cart kept")
			return commandResult{err: err}
		}
		state.lines = nil
		return commandResult{confirm: ConfirmResult{Order: order, Lines: lines}}

	case actionState:
		return commandResult{state: state.snapshot()}

	default:
		return commandResult{err: fmt.Errorf("unknown cart action %d", cmd.action)}
	}
}

func (c *Cart) Increment(ctx context.Context, item models.InventoryItem) (State, error) {
	if item.ID == "" {
		return State{}, fmt.Errorf("increment: %w: item has no id", database.ErrInvalidArgument)
	}
	res, err := c.do(ctx, command{action: actionIncrement, item: item})
	return res.state, err
}

// Decrement lowers the item's quantity by one and drops the line at zero.
// An item not in the cart is ignored.
func (c *Cart) Decrement(ctx context.Context, item models.InventoryItem) (State, error) {
	res, err := c.do(ctx, command{action: actionDecrement, item: item})
	return res.state, err
}

// Confirm commits the cart. The cart is cleared only when the commit
// succeeds; an empty cart is skipped without touching the store.
func (c *Cart) Confirm(ctx context.Context) (ConfirmResult, error) {
	res, err := c.do(ctx, command{action: actionConfirm})
	return res.confirm, err
}

func (c *Cart) State(ctx context.Context) (State, error) {
	res, err := c.do(ctx, command{action: actionState})
	return res.state, err
}

// Subscribe streams the cart state after every change.
func (c *Cart) Subscribe(ctx context.Context) (*feed.Subscription[State], error) {
	select {
	case <-c.done:
		return nil, ErrCartClosed
	default:
	}
	return c.states.Subscribe(ctx), nil
}

// Close stops Run. It does not wait for an in-flight confirm.
func (c *Cart) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *Cart) do(ctx context.Context, cmd command) (commandResult, error) {
	// Buffered so the actor never blocks on a caller that gave up.
	cmd.reply = make(chan commandResult, 1)
	cmd.ctx = ctx

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-c.done:
		return commandResult{}, ErrCartClosed
	}

	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}
