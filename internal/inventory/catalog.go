package inventory

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/safar/foodmanager/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Items []catalogEntry `yaml:"items"`
}

type catalogEntry struct {
	Name         string   `yaml:"name"`
	Unit         string   `yaml:"unit"`
	Category     string   `yaml:"category"`
	Stock        float64  `yaml:"stock"`
	ReorderLevel *float64 `yaml:"reorder_level,omitempty"`
	Price        string   `yaml:"price"`
	ImageURI     string   `yaml:"image_uri,omitempty"`
}

// LoadCatalog reads a seed catalog from path, or the built-in sample
// catalog when path is empty.
func LoadCatalog(path string) ([]models.InventoryItem, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]models.InventoryItem, error) {
	var file catalogFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}

	items := make([]models.InventoryItem, 0, len(file.Items))
	for i, entry := range file.Items {
		category, err := models.ParseCategory(entry.Category)
		if err != nil {
			return nil, fmt.Errorf("catalog item %d: %w", i, err)
		}

		price := decimal.Zero
		if entry.Price != "" {
			price, err = decimal.NewFromString(entry.Price)
			if err != nil {
				return nil, fmt.Errorf("catalog item %d: price %q: %w", i, entry.Price, err)
			}
		}

		item := models.InventoryItem{
			Name:         entry.Name,
			Unit:         entry.Unit,
			Category:     category,
			StockQty:     entry.Stock,
			ReorderLevel: models.DefaultReorderLevel,
			PricePerUnit: price,
			IsAvailable:  true,
		}
		if entry.ReorderLevel != nil {
			item.ReorderLevel = *entry.ReorderLevel
		}
		if entry.ImageURI != "" {
			uri := entry.ImageURI
			item.ImageURI = &uri
		}

		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("catalog item %d (%s): %w", i, entry.Name, err)
		}
		items = append(items, item)
	}

	return items, nil
}
