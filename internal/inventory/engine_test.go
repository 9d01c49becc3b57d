package inventory

import (
	"context"
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
	"github.com/safar/foodmanager/internal/store/memory"
)

type countingSource struct {
	inner ItemSource
	count atomic.Int32
}

func (c *countingSource) SubscribeItems(ctx context.Context) (*feed.Subscription[[]models.InventoryItem], error) {
	c.count.Add(1)
	return c.inner.SubscribeItems(ctx)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	_, err := s.SeedIfEmpty(context.Background(), []models.InventoryItem{
		{Name: "RICE", Unit: "package", Category: models.CategoryIngredient, StockQty: 30, ReorderLevel: 10, PricePerUnit: decimal.NewFromFloat(8.5)},
		{Name: "Tomato", Unit: "kg", Category: models.CategoryIngredient, StockQty: 5, ReorderLevel: 8, PricePerUnit: decimal.NewFromInt(6)},
		{Name: "Knife", Unit: "unit", Category: models.CategoryEquipment, StockQty: 4, ReorderLevel: 2, PricePerUnit: decimal.NewFromInt(25)},
	})
	require.NoError(t, err)
	return s
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// nextMatching reads views until one satisfies ok; conflation may skip
// intermediate ones.
func nextMatching(t *testing.T, sub *feed.Subscription[View], ok func(View) bool) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		v, err := feed.Next(ctx, sub)
		require.NoError(t, err)
		if ok(v) {
			return v
		}
	}
}

func TestEngine_InitialSnapshot(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	v := nextMatching(t, sub, func(View) bool { return true })
	assert.Equal(t, []string{"Knife", "RICE", "Tomato"}, itemNames(v.Items))
	assert.Equal(t, models.CategoryAll, v.Category)
}

func TestEngine_CategoryIsImmediate(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Debounce: time.Hour, Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	nextMatching(t, sub, func(View) bool { return true })

	e.SetCategory(models.CategoryEquipment)

	v := nextMatching(t, sub, func(v View) bool { return v.Category == models.CategoryEquipment })
	assert.Equal(t, []string{"Knife"}, itemNames(v.Items))
}

func TestEngine_QueryIsDebounced(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Debounce: 100 * time.Millisecond, Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	nextMatching(t, sub, func(View) bool { return true })

	e.SetQuery("t")
	e.SetQuery("to")
	e.SetQuery("tom")
	assert.Equal(t, "", e.Current().Query)

	v := nextMatching(t, sub, func(v View) bool { return v.Query != "" })
	assert.Equal(t, "tom", v.Query, "superseded queries are never applied")
	assert.Equal(t, []string{"Tomato"}, itemNames(v.Items))
}

func TestEngine_ApplyQueryCancelsPending(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Debounce: 50 * time.Millisecond, Logger: quietLogger()})
	defer e.Close()

	e.SetQuery("knife")
	e.ApplyQuery("rice")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "rice", e.Current().Query)
}

func TestEngine_UpstreamPushKeepsFilters(t *testing.T) {
	s := seededStore(t)
	e := NewEngine(s, Options{Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	nextMatching(t, sub, func(View) bool { return true })

	e.ApplyQuery("o")
	e.SetCategory(models.CategoryIngredient)

	_, err = s.PutItem(context.Background(), models.InventoryItem{
		Name: "Cooking Oil", Unit: "bottle", Category: models.CategoryIngredient, PricePerUnit: decimal.NewFromInt(12),
	})
	require.NoError(t, err)

	v := nextMatching(t, sub, func(v View) bool { return len(v.Items) == 2 })
	assert.Equal(t, []string{"Cooking Oil", "Tomato"}, itemNames(v.Items))
}

func TestEngine_ReleasesAndResubscribes(t *testing.T) {
	source := &countingSource{inner: seededStore(t)}
	e := NewEngine(source, Options{Logger: quietLogger()})
	defer e.Close()

	first, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	second, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.count.Load())

	first.Close()
	second.Close()

	third, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer third.Close()
	assert.Equal(t, int32(2), source.count.Load())

	v := nextMatching(t, third, func(View) bool { return true })
	assert.Len(t, v.Items, 3)
}

func TestEngine_ReleaseDropsSnapshot(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	nextMatching(t, sub, func(v View) bool { return len(v.Items) == 3 })
	e.SetCategory(models.CategoryEquipment)
	sub.Close()

	v := e.Current()
	assert.Equal(t, models.CategoryEquipment, v.Category)
	assert.NotNil(t, v.Items)
	assert.Empty(t, v.Items)
}

func TestEngine_ContextEndsSubscription(t *testing.T) {
	source := &countingSource{inner: seededStore(t)}
	e := NewEngine(source, Options{Logger: quietLogger()})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := e.Subscribe(ctx)
	require.NoError(t, err)
	nextMatching(t, sub, func(View) bool { return true })
	cancel()

	assert.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.upstream == nil
	}, time.Second, 10*time.Millisecond)

	_, err = feed.Next(context.Background(), sub)
	assert.ErrorIs(t, err, feed.ErrClosed)

	again, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, int32(2), source.count.Load())
}

func TestEngine_UpstreamFailure(t *testing.T) {
	s := seededStore(t)
	e := NewEngine(s, Options{Logger: quietLogger()})
	defer e.Close()

	sub, err := e.Subscribe(context.Background())
	require.NoError(t, err)
	nextMatching(t, sub, func(View) bool { return true })

	require.NoError(t, s.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, err = feed.Next(ctx, sub)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)

	_, err = e.Subscribe(context.Background())
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)
}

func TestEngine_Closed(t *testing.T) {
	e := NewEngine(seededStore(t), Options{Logger: quietLogger()})
	e.Close()

	_, err := e.Subscribe(context.Background())
	assert.ErrorIs(t, err, feed.ErrClosed)
}
