package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
)

const DefaultDebounce = 200 * time.Millisecond

// ItemSource is the part of store.InventoryStore the engine reads.
type ItemSource interface {
	SubscribeItems(ctx context.Context) (*feed.Subscription[[]models.InventoryItem], error)
}

type Options struct {
	// Debounce delays SetQuery. Zero means DefaultDebounce.
	Debounce time.Duration
	Logger   logrus.FieldLogger
}

// View is one derived state of the engine.
type View struct {
	Query    string                 `json:"query"`
	Category models.Category        `json:"category"`
	Items    []models.InventoryItem `json:"items"`
}

// Engine holds the latest query, category and upstream snapshot and
// recomputes the view whenever any of them changes.
//
// The upstream subscription is opened by the first Subscribe and released
// when the last subscriber leaves.
type Engine struct {
	source ItemSource
	opts   Options
	log    logrus.FieldLogger
	views  *feed.Feed[View]

	mu       sync.Mutex
	query    string
	category models.Category
	items    []models.InventoryItem
	hasItems bool
	upstream *feed.Subscription[[]models.InventoryItem]
	timer    *time.Timer
	querySeq uint64
	closed   bool
}

func NewEngine(source ItemSource, opts Options) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	e := &Engine{
		source:   source,
		opts:     opts,
		log:      opts.Logger.WithField("component", "inventory_engine"),
		category: models.CategoryAll,
	}
	e.views = feed.New[View](e.releaseIfIdle)
	return e
}

// SetQuery applies q after the debounce delay. A later SetQuery or
// ApplyQuery supersedes a pending one.
func (e *Engine) SetQuery(q string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.querySeq++
	seq := e.querySeq
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.opts.Debounce, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed || seq != e.querySeq {
			return
		}
		e.applyQueryLocked(q)
	})
}

// ApplyQuery sets the query immediately, dropping any pending SetQuery.
func (e *Engine) ApplyQuery(q string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.querySeq++
	if e.timer != nil {
		e.timer.Stop()
	}
	e.applyQueryLocked(q)
}

func (e *Engine) SetCategory(c models.Category) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || c == e.category {
		return
	}
	e.category = c
	e.publishLocked()
}

// Subscribe streams derived views. The first value arrives once the upstream
// has delivered a snapshot.
func (e *Engine) Subscribe(ctx context.Context) (*feed.Subscription[View], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("subscribe inventory: %w", feed.ErrClosed)
	}

	if e.upstream == nil {
		up, err := e.source.SubscribeItems(context.Background())
		if err != nil {
			return nil, fmt.Errorf("subscribe inventory: %w", err)
		}
		e.upstream = up
		e.hasItems = false
		e.views.Reset()
		go e.pump(up)
		e.log.Debug("upstream subscribed")
	}

	return e.views.Subscribe(ctx), nil
}

// Current returns the view derived from the latest inputs. Items is empty
// while no upstream snapshot is held.
func (e *Engine) Current() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Close releases the upstream and ends every subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
	up := e.upstream
	e.upstream = nil
	e.mu.Unlock()

	if up != nil {
		up.Close()
	}
	e.views.Close()
}

func (e *Engine) pump(up *feed.Subscription[[]models.InventoryItem]) {
	for items := range up.C() {
		e.mu.Lock()
		if e.upstream != up {
			e.mu.Unlock()
			return
		}
		e.items, e.hasItems = items, true
		e.publishLocked()
		e.mu.Unlock()
	}

	err := up.Err()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.upstream != up {
		return
	}
	e.upstream = nil
	e.items, e.hasItems = nil, false
	if err != nil {
		e.log.WithError(err).Error("inventory feed failed")
		e.views.Fail(err)
		return
	}
	e.views.Close()
}

func (e *Engine) releaseIfIdle() {
	e.mu.Lock()
	if e.upstream == nil || e.views.Len() > 0 {
		e.mu.Unlock()
		return
	}
	up := e.upstream
	e.upstream = nil
	e.items, e.hasItems = nil, false
	e.views.Reset()
	e.mu.Unlock()

	up.Close()
	e.log.Debug("upstream released")
}

func (e *Engine) applyQueryLocked(q string) {
	if q == e.query {
		return
	}
	e.query = q
	e.publishLocked()
}

func (e *Engine) publishLocked() {
	if e.upstream == nil || !e.hasItems {
		return
	}
	e.views.Publish(e.viewLocked())
}

func (e *Engine) viewLocked() View {
	return View{
		Query:    e.query,
		Category: e.category,
		Items:    Filter(e.items, e.query, e.category),
	}
}
