// Package postgres is the database backend. Live feeds are driven by
// LISTEN/NOTIFY: table triggers notify inventory_changed and orders_changed,
// and each notification reloads the affected snapshot.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
)

const (
	channelInventory = "inventory_changed"
	channelOrders    = "orders_changed"

	pingInterval = 90 * time.Second
)

type Options struct {
	// DSN opens the dedicated LISTEN connection.
	DSN          string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	Logger       logrus.FieldLogger
}

type Store struct {
	db   *sql.DB
	opts Options
	log  logrus.FieldLogger

	itemsFeed  *feed.Feed[[]models.InventoryItem]
	ordersFeed *feed.Feed[[]models.PurchaseOrder]

	// reload*Mu serialize load+publish so an older read never replaces a
	// newer one.
	reloadItemsMu  sync.Mutex
	reloadOrdersMu sync.Mutex

	mu       sync.Mutex
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	pending  int
	closed   bool
}

var _ store.Backend = (*Store)(nil)

func New(db *sql.DB, opts Options) *Store {
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = 10 * time.Second
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Store{
		db:   db,
		opts: opts,
		log:  opts.Logger.WithField("component", "postgres_store"),
	}
	s.itemsFeed = feed.New[[]models.InventoryItem](s.stopIfIdle)
	s.ordersFeed = feed.New[[]models.PurchaseOrder](s.stopIfIdle)
	return s
}

func (s *Store) SubscribeItems(ctx context.Context) (*feed.Subscription[[]models.InventoryItem], error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.reloadItems(ctx); err != nil {
		return nil, err
	}
	return s.itemsFeed.Subscribe(ctx), nil
}

func (s *Store) SubscribeOrders(ctx context.Context) (*feed.Subscription[[]models.PurchaseOrder], error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.reloadOrders(ctx); err != nil {
		return nil, err
	}
	return s.ordersFeed.Subscribe(ctx), nil
}

// Close stops the listener and ends all live subscriptions. The *sql.DB is
// owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	listener, cancel, done := s.detachLocked()
	s.mu.Unlock()

	s.shutdown(listener, cancel, done)
	s.itemsFeed.Close()
	s.ordersFeed.Close()
	return nil
}

// acquire starts the LISTEN connection if it is not running and holds it
// open until release. LISTEN is issued before the caller loads its first
// snapshot so no change between the two is missed.
func (s *Store) acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscribe: %w", database.ErrStoreUnavailable)
	}
	if s.listener == nil {
		// Listen blocks until the listener connects; fail fast instead.
		if err := s.db.PingContext(ctx); err != nil {
			return wrapErr("subscribe", err)
		}
		listener := pq.NewListener(s.opts.DSN, s.opts.MinReconnect, s.opts.MaxReconnect, s.onListenerEvent)
		for _, channel := range []string{channelInventory, channelOrders} {
			if err := listener.Listen(channel); err != nil {
				listener.Close()
				return wrapErr("listen "+channel, err)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.listener, s.cancel, s.done = listener, cancel, make(chan struct{})

		go s.listen(ctx, listener, s.done)
		s.log.Debug("listening for changes")
	}
	s.pending++
	return nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
	s.stopIfIdle()
}

// stopIfIdle closes the LISTEN connection once no subscriber is left.
func (s *Store) stopIfIdle() {
	s.mu.Lock()
	if s.pending > 0 || s.itemsFeed.Len() > 0 || s.ordersFeed.Len() > 0 {
		s.mu.Unlock()
		return
	}
	listener, cancel, done := s.detachLocked()
	s.mu.Unlock()

	s.shutdown(listener, cancel, done)
}

func (s *Store) detachLocked() (*pq.Listener, context.CancelFunc, chan struct{}) {
	listener, cancel, done := s.listener, s.cancel, s.done
	s.listener, s.cancel, s.done = nil, nil, nil
	return listener, cancel, done
}

func (s *Store) shutdown(listener *pq.Listener, cancel context.CancelFunc, done chan struct{}) {
	if listener == nil {
		return
	}
	cancel()
	<-done
	if err := listener.Close(); err != nil {
		s.log.WithError(err).Warn("close listener")
	}
	s.log.Debug("stopped listening")
}

func (s *Store) listen(ctx context.Context, listener *pq.Listener, done chan struct{}) {
	defer close(done)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected: notifications may have been lost meanwhile.
				s.refresh(ctx, true, true)
				continue
			}
			s.refresh(ctx, n.Channel == channelInventory, n.Channel == channelOrders)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					s.log.WithError(err).Warn("listener ping failed")
				}
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) refresh(ctx context.Context, items, orders bool) {
	if items && s.itemsFeed.Len() > 0 {
		if err := s.reloadItems(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("reload inventory snapshot")
			s.itemsFeed.Fail(err)
			go s.stopIfIdle()
		}
	}
	if orders && s.ordersFeed.Len() > 0 {
		if err := s.reloadOrders(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("reload orders snapshot")
			s.ordersFeed.Fail(err)
			go s.stopIfIdle()
		}
	}
}

func (s *Store) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.log.WithError(err).Warn("listener disconnected")
		failure := fmt.Errorf("live feed lost: %w: %v", database.ErrStoreUnavailable, err)
		s.itemsFeed.Fail(failure)
		s.ordersFeed.Fail(failure)
		go s.stopIfIdle()
	case pq.ListenerEventConnectionAttemptFailed:
		s.log.WithError(err).Warn("listener reconnect failed")
	case pq.ListenerEventReconnected:
		s.log.Info("listener reconnected")
	}
}

func (s *Store) reloadItems(ctx context.Context) error {
	s.reloadItemsMu.Lock()
	defer s.reloadItemsMu.Unlock()

	items, err := ListItems(ctx, s.db)
	if err != nil {
		return err
	}
	s.itemsFeed.Publish(items)
	return nil
}

func (s *Store) reloadOrders(ctx context.Context) error {
	s.reloadOrdersMu.Lock()
	defer s.reloadOrdersMu.Unlock()

	orders, err := ListOrders(ctx, s.db)
	if err != nil {
		return err
	}
	s.ordersFeed.Publish(orders)
	return nil
}

// wrapErr marks connection-level failures with ErrStoreUnavailable so callers
// can tell them apart with errors.Is.
func wrapErr(op string, err error) error {
	if database.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, database.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
