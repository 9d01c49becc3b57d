package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/safar/foodmanager/internal/models"
)

func sampleItems() []models.InventoryItem {
	return []models.InventoryItem{
		{ID: "1", Name: "Knife", Category: models.CategoryEquipment},
		{ID: "2", Name: "RICE", Category: models.CategoryIngredient},
		{ID: "3", Name: "Tomato", Category: models.CategoryIngredient},
	}
}

func itemNames(items []models.InventoryItem) []string {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		category models.Category
		want     []string
	}{
		{"query and category", "tom", models.CategoryIngredient, []string{"Tomato"}},
		{"everything", "", models.CategoryAll, []string{"Knife", "RICE", "Tomato"}},
		{"blank query", "   ", models.CategoryAll, []string{"Knife", "RICE", "Tomato"}},
		{"case insensitive", "rIc", models.CategoryAll, []string{"RICE"}},
		{"category only", "", models.CategoryEquipment, []string{"Knife"}},
		{"category excludes match", "knife", models.CategoryIngredient, []string{}},
		{"no match", "zzz", models.CategoryAll, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(sampleItems(), tt.query, tt.category)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, itemNames(got))
		})
	}
}
