package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ItemForm is the raw text of the add/edit inventory dialog.
//
// Stock only seeds a new item. When ID is set the stored stock is kept and
// Stock is ignored; stock then changes only through confirmed purchases.
type ItemForm struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Category     string `json:"category"`
	Stock        string `json:"stock"`
	ReorderLevel string `json:"reorder_level"`
	Price        string `json:"price"`
	ImageURI     string `json:"image_uri"`
}

// Item converts the form into an item ready to save. Malformed numbers
// become 0; an empty reorder level keeps the default.
func (f ItemForm) Item() (InventoryItem, error) {
	item := InventoryItem{
		ID:           strings.TrimSpace(f.ID),
		Name:         strings.TrimSpace(f.Name),
		Unit:         strings.TrimSpace(f.Unit),
		Category:     CategoryIngredient,
		StockQty:     nonNegative(ParseQuantity(f.Stock)),
		ReorderLevel: DefaultReorderLevel,
		PricePerUnit: ParsePrice(f.Price),
		IsAvailable:  true,
	}

	if strings.TrimSpace(f.ReorderLevel) != "" {
		item.ReorderLevel = ParseQuantity(f.ReorderLevel)
	}

	if strings.TrimSpace(f.Category) != "" {
		c, err := ParseCategory(f.Category)
		if err != nil {
			return InventoryItem{}, err
		}
		item.Category = c
	}

	if uri := strings.TrimSpace(f.ImageURI); uri != "" {
		item.ImageURI = &uri
	}

	return item, item.Validate()
}

// Validate checks the fields a stored item must carry.
func (i InventoryItem) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(i.Unit) == "" {
		return fmt.Errorf("unit is required")
	}
	if i.Category != CategoryIngredient && i.Category != CategoryEquipment {
		return fmt.Errorf("category %q cannot be stored", i.Category)
	}
	if i.StockQty < 0 {
		return fmt.Errorf("stock must not be negative")
	}
	if i.PricePerUnit.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	return nil
}

func ParseQuantity(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func ParsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
