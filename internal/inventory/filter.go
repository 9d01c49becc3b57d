// Package inventory derives the filtered inventory view from the live item
// feed and covers the add/edit/delete/seed operations of the inventory
// screen.
package inventory

import (
	"strings"

	"github.com/safar/foodmanager/internal/models"
)

// Filter keeps items whose name contains query, ignoring case, and whose
// category matches. A blank query and CategoryAll match everything. The
// result keeps the input order and is never nil.
func Filter(items []models.InventoryItem, query string, category models.Category) []models.InventoryItem {
	matchAll := strings.TrimSpace(query) == ""
	needle := strings.ToLower(query)

	filtered := make([]models.InventoryItem, 0, len(items))
	for _, item := range items {
		if category != models.CategoryAll && category != "" && item.Category != category {
			continue
		}
		if !matchAll && !strings.Contains(strings.ToLower(item.Name), needle) {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}
