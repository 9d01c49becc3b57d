package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/store/memory"
)

func TestService_SaveNewAndEdit(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), "", quietLogger())

	created, err := svc.Save(ctx, models.ItemForm{
		Name: " Tomato ", Unit: "kg", Category: "ingredient", Stock: "5", Price: "6.50",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Tomato", created.Name)
	assert.Equal(t, models.DefaultReorderLevel, created.ReorderLevel)
	assert.Equal(t, "6.5", created.PricePerUnit.String())

	edited, err := svc.Save(ctx, models.ItemForm{
		ID: created.ID, Name: "Roma Tomato", Unit: "kg", Stock: "100", Price: "oops",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, edited.ID)
	assert.Equal(t, "Roma Tomato", edited.Name)
	assert.Equal(t, 5.0, edited.StockQty)
	assert.True(t, edited.PricePerUnit.IsZero(), "malformed price falls back to 0")
}

func TestService_SaveRequiresNameAndUnit(t *testing.T) {
	svc := NewService(memory.New(), "", quietLogger())

	_, err := svc.Save(context.Background(), models.ItemForm{Unit: "kg"})
	assert.ErrorIs(t, err, database.ErrInvalidArgument)

	_, err = svc.Save(context.Background(), models.ItemForm{Name: "Tomato"})
	assert.ErrorIs(t, err, database.ErrInvalidArgument)
}

func TestService_SaveUnknownID(t *testing.T) {
	svc := NewService(memory.New(), "", quietLogger())

	_, err := svc.Save(context.Background(), models.ItemForm{ID: "missing", Name: "Tomato", Unit: "kg"})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), "", quietLogger())

	assert.NoError(t, svc.Delete(ctx, "  "))
	assert.ErrorIs(t, svc.Delete(ctx, "missing"), database.ErrNotFound)

	item, err := svc.Save(ctx, models.ItemForm{Name: "Knife", Unit: "unit", Category: "EQUIPMENT"})
	require.NoError(t, err)
	assert.NoError(t, svc.Delete(ctx, item.ID))
}

func TestService_SeedSample(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := NewService(s, "", quietLogger())

	seeded, err := svc.SeedSample(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = svc.SeedSample(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	e := NewEngine(s, Options{Logger: quietLogger()})
	defer e.Close()
	sub, err := e.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	v := nextMatching(t, sub, func(View) bool { return true })
	assert.Equal(t,
		[]string{"Blender", "Chicken Breast", "Cooking Oil", "Knife", "RICE", "Tomato"},
		itemNames(v.Items))
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
items:
  - name: Flour
    unit: kg
    category: ingredient
    stock: 12
    price: "1.25"
`), 0o600))

	items, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.CategoryIngredient, items[0].Category)
	assert.Equal(t, models.DefaultReorderLevel, items[0].ReorderLevel)
	assert.Equal(t, "1.25", items[0].PricePerUnit.String())
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "items:\n  - name: A\n    unit: kg\n    category: INGREDIENT\n    colour: red\n",
		"bad category":  "items:\n  - name: A\n    unit: kg\n    category: TOOLS\n",
		"bad price":     "items:\n  - name: A\n    unit: kg\n    category: INGREDIENT\n    price: cheap\n",
		"missing unit":  "items:\n  - name: A\n    category: INGREDIENT\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDefaultCatalog_Statuses(t *testing.T) {
	items, err := LoadCatalog("")
	require.NoError(t, err)
	require.Len(t, items, 6)

	statuses := map[string]models.Status{}
	for _, item := range items {
		statuses[item.Name] = item.Status()
	}
	assert.Equal(t, models.StatusAvailable, statuses["RICE"])
	assert.Equal(t, models.StatusLowStock, statuses["Tomato"])
	assert.Equal(t, models.StatusUnavailable, statuses["Chicken Breast"])
	assert.Equal(t, models.StatusLowStock, statuses["Blender"])
}
