package domain

type ItemKind string

const (
	ItemKindExercise ItemKind = "exercise"
	ItemKindFood     ItemKind = "food"
)

// CatalogItem is a read-only reference content unit. AssetRef points at the
// demonstration media and must be non-empty for anything the service serves.
type CatalogItem struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Kind          ItemKind `json:"kind" yaml:"kind"`
	Categories    []string `json:"categories,omitempty" yaml:"categories"`
	Attributes    []string `json:"attributes,omitempty" yaml:"attributes"`
	Equipment     []string `json:"equipment,omitempty" yaml:"equipment"`
	Level         string   `json:"level,omitempty" yaml:"level"`
	DietFlags     []string `json:"diet_flags,omitempty" yaml:"diet_flags"`
	ExclusionTags []string `json:"exclusion_tags,omitempty" yaml:"exclusion_tags"`
	AssetRef      string   `json:"asset_ref" yaml:"asset_ref"`
}
