package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store"
	"github.com/safar/foodmanager/internal/store/memory"
)

type fakeOrders struct {
	orders   *feed.Feed[[]models.PurchaseOrder]
	released atomic.Bool

	mu     sync.Mutex
	lines  map[string][]models.PurchaseLine
	failID string
}

func newFakeOrders() *fakeOrders {
	f := &fakeOrders{lines: make(map[string][]models.PurchaseLine)}
	f.orders = feed.New[[]models.PurchaseOrder](func() { f.released.Store(true) })
	return f
}

func (f *fakeOrders) SubscribeOrders(ctx context.Context) (*feed.Subscription[[]models.PurchaseOrder], error) {
	return f.orders.Subscribe(ctx), nil
}

func (f *fakeOrders) ListLines(_ context.Context, orderID string) ([]models.PurchaseLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if orderID == f.failID {
		return nil, database.ErrStoreUnavailable
	}
	return f.lines[orderID], nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func next(t *testing.T, sub *feed.Subscription[[]models.OrderWithLines]) ([]models.OrderWithLines, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return feed.Next(ctx, sub)
}

func TestProjector_EmptySnapshot(t *testing.T) {
	orders := newFakeOrders()
	orders.orders.Publish([]models.PurchaseOrder{})

	sub, err := NewProjector(orders, quietLogger()).Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	got, err := next(t, sub)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestProjector_JoinsLinesInOrder(t *testing.T) {
	orders := newFakeOrders()
	orders.lines["o-2"] = []models.PurchaseLine{{ID: "l-3", OrderID: "o-2"}}
	orders.lines["o-1"] = []models.PurchaseLine{{ID: "l-1", OrderID: "o-1"}, {ID: "l-2", OrderID: "o-1"}}
	orders.orders.Publish([]models.PurchaseOrder{{ID: "o-2", CreatedAt: 20}, {ID: "o-1", CreatedAt: 10}})

	sub, err := NewProjector(orders, quietLogger()).Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	got, err := next(t, sub)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o-2", got[0].Order.ID)
	assert.Len(t, got[0].Lines, 1)
	assert.Equal(t, "o-1", got[1].Order.ID)
	assert.Len(t, got[1].Lines, 2)
}

func TestProjector_JoinFailureFailsSubscription(t *testing.T) {
	orders := newFakeOrders()
	orders.failID = "o-2"
	orders.orders.Publish([]models.PurchaseOrder{{ID: "o-2"}, {ID: "o-1"}})

	sub, err := NewProjector(orders, quietLogger()).Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	_, err = next(t, sub)
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)
	assert.Eventually(t, orders.released.Load, time.Second, 10*time.Millisecond)
}

func TestProjector_CloseReleasesUpstream(t *testing.T) {
	orders := newFakeOrders()
	orders.orders.Publish([]models.PurchaseOrder{})

	sub, err := NewProjector(orders, quietLogger()).Subscribe(context.Background())
	require.NoError(t, err)
	_, err = next(t, sub)
	require.NoError(t, err)

	sub.Close()
	assert.True(t, orders.released.Load())
}

func TestProjector_UpstreamFailure(t *testing.T) {
	orders := newFakeOrders()
	orders.orders.Publish([]models.PurchaseOrder{})

	sub, err := NewProjector(orders, quietLogger()).Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	_, err = next(t, sub)
	require.NoError(t, err)

	boom := errors.New("boom")
	orders.orders.Fail(boom)

	_, err = next(t, sub)
	assert.ErrorIs(t, err, boom)
}

func TestProjector_FollowsCommits(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	sub, err := NewProjector(s, quietLogger()).Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	first, err := next(t, sub)
	require.NoError(t, err)
	assert.Empty(t, first)

	_, err = s.Commit(ctx, store.Commit{
		Order: models.PurchaseOrder{ID: "o-1", CreatedAt: 100, TotalCost: decimal.NewFromInt(6)},
		Lines: []models.PurchaseLine{{ID: "l-1", InventoryID: "i-1", Qty: 1, UnitPrice: decimal.NewFromInt(6)}},
	})
	require.NoError(t, err)

	got, err := next(t, sub)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o-1", got[0].Order.ID)
	require.Len(t, got[0].Lines, 1)
	assert.Equal(t, "i-1", got[0].Lines[0].InventoryID)
}
