package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iago/fitcoach-back/internal/domain"
)

var ErrEmptyCatalog = errors.New("catalog has no items")

// Catalog is an immutable, id-indexed snapshot of reference items. It is
// safe for concurrent reads and is never mutated once built.
type Catalog struct {
	version string
	items   []domain.CatalogItem
	index   map[string]int
}

// New builds a snapshot. Items are normalized and sorted by id; duplicated
// ids and items without id or kind are rejected. An empty version is
// replaced with a content hash.
func New(version string, items []domain.CatalogItem) (*Catalog, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}

	normalized := make([]domain.CatalogItem, 0, len(items))
	index := make(map[string]int, len(items))
	for position, item := range items {
		item = normalizeItem(item)
		if item.ID == "" {
			return nil, fmt.Errorf("catalog item %d: missing id", position)
		}
		if item.Kind != domain.ItemKindExercise && item.Kind != domain.ItemKindFood {
			return nil, fmt.Errorf("catalog item %q: unsupported kind %q", item.ID, item.Kind)
		}
		if _, exists := index[item.ID]; exists {
			return nil, fmt.Errorf("catalog item %q: duplicated id", item.ID)
		}
		index[item.ID] = -1
		normalized = append(normalized, item)
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ID < normalized[j].ID
	})
	for position, item := range normalized {
		index[item.ID] = position
	}

	if strings.TrimSpace(version) == "" {
		version = contentVersion(normalized)
	}

	return &Catalog{
		version: strings.TrimSpace(version),
		items:   normalized,
		index:   index,
	}, nil
}

func (c *Catalog) Version() string {
	return c.version
}

func (c *Catalog) Len() int {
	return len(c.items)
}

func (c *Catalog) Get(id string) (domain.CatalogItem, bool) {
	position, ok := c.index[id]
	if !ok {
		return domain.CatalogItem{}, false
	}
	return c.items[position], true
}

// All returns the items of one kind in id order.
func (c *Catalog) All(kind domain.ItemKind) []domain.CatalogItem {
	out := make([]domain.CatalogItem, 0, len(c.items))
	for _, item := range c.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

// MissingAssets lists item ids that could never be served.
func (c *Catalog) MissingAssets() []string {
	ids := make([]string, 0)
	for _, item := range c.items {
		if strings.TrimSpace(item.AssetRef) == "" {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func normalizeItem(item domain.CatalogItem) domain.CatalogItem {
	item.ID = strings.TrimSpace(item.ID)
	item.Name = strings.TrimSpace(item.Name)
	item.Kind = domain.ItemKind(strings.ToLower(strings.TrimSpace(string(item.Kind))))
	item.Level = strings.ToLower(strings.TrimSpace(item.Level))
	item.AssetRef = strings.TrimSpace(item.AssetRef)
	item.Categories = normalizeTags(item.Categories)
	item.Attributes = normalizeTags(item.Attributes)
	item.Equipment = normalizeTags(item.Equipment)
	item.DietFlags = normalizeTags(item.DietFlags)
	item.ExclusionTags = normalizeTags(item.ExclusionTags)
	return item
}

func normalizeTags(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func contentVersion(items []domain.CatalogItem) string {
	hash := sha256.New()
	for _, item := range items {
		fmt.Fprintf(hash, "%s|%s|%s|%s|%s\n",
			item.ID,
			item.Kind,
			item.Name,
			item.AssetRef,
			strings.Join(append(append([]string{}, item.Categories...), item.Attributes...), ","),
		)
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil))[:16]
}
