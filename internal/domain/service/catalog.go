package service

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"smartBin/internal/domain/model"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

var ErrUnknownItem = errors.New("unknown store item")

type catalogFile struct {
	Items []model.StoreItem `yaml:"items"`
}

// Catalog is the read-only list of redeemable items.
type Catalog struct {
	items []model.StoreItem
	byID  map[string]model.StoreItem
}

// LoadCatalog reads the catalog from path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog and validates every item.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]model.StoreItem, len(f.Items))}
	for i, item := range f.Items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return nil, fmt.Errorf("catalog item %d: empty id", i)
		}
		if item.Cost < 0 {
			return nil, fmt.Errorf("catalog item %s: negative cost %d", item.ID, item.Cost)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("catalog item %s: duplicate id", item.ID)
		}
		c.byID[item.ID] = item
		c.items = append(c.items, item)
	}
	return c, nil
}

// Items returns the catalog in file order.
func (c *Catalog) Items() []model.StoreItem {
	out := make([]model.StoreItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Item(id string) (model.StoreItem, error) {
	item, ok := c.byID[id]
	if !ok {
		return model.StoreItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	return item, nil
}
