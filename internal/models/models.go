package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryAll        Category = "ALL"
	CategoryIngredient Category = "INGREDIENT"
	CategoryEquipment  Category = "EQUIPMENT"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryAll, CategoryIngredient, CategoryEquipment:
		return c, nil
	case "":
		return CategoryAll, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

type Status string

const (
	StatusUnavailable Status = "unavailable"
	StatusLowStock    Status = "low stock"
	StatusAvailable   Status = "available"
)

const DefaultReorderLevel = 5.0

type InventoryItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Category     Category        `json:"category"`
	StockQty     float64         `json:"stock_qty"`
	ReorderLevel float64         `json:"reorder_level"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	ImageURI     *string         `json:"image_uri,omitempty"`
	IsAvailable  bool            `json:"is_available"`
	Version      int             `json:"version"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Status is computed from stock at read time; IsAvailable is only a hint.
func (i InventoryItem) Status() Status {
	switch {
	case i.StockQty <= 0:
		return StatusUnavailable
	case i.StockQty <= i.ReorderLevel:
		return StatusLowStock
	default:
		return StatusAvailable
	}
}

type CartLine struct {
	Item InventoryItem `json:"item"`
	Qty  float64       `json:"qty"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.Item.PricePerUnit.Mul(decimal.NewFromFloat(l.Qty))
}

// Total sums line subtotals at the prices captured on each line.
func Total(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

type PurchaseOrder struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type PurchaseLine struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	InventoryID string          `json:"inventory_id"`
	Qty         float64         `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type OrderWithLines struct {
	Order PurchaseOrder  `json:"order"`
	Lines []PurchaseLine `json:"lines"`
}
