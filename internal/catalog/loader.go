package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Version string               `yaml:"version"`
	Items   []domain.CatalogItem `yaml:"items"`
}

// LoadFile reads a YAML catalog document. JSON documents parse too since
// YAML is a superset.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var document fileDocument
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(document.Version, document.Items)
}

// LoadPostgres reads every row of catalog_items. The version is derived from
// content so a reseeded table changes it.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, kind, categories, attributes, equipment, level, diet_flags, exclusion_tags, asset_ref
		FROM catalog_items
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 256)
	for rows.Next() {
		var (
			item domain.CatalogItem
			kind string
		)
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&kind,
			&item.Categories,
			&item.Attributes,
			&item.Equipment,
			&item.Level,
			&item.DietFlags,
			&item.ExclusionTags,
			&item.AssetRef,
		); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Kind = domain.ItemKind(kind)
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", rows.Err())
	}

	return New("", items)
}
