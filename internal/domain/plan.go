package domain

import (
	"encoding/json"
	"time"
)

// RawOutput is the structured candidate produced by the model, before any
// reference is trusted.
type RawOutput struct {
	Title    string       `json:"title"`
	Sections []RawSection `json:"sections"`
	Notes    []string     `json:"notes,omitempty"`
	ModelID  string       `json:"-"`
}

type RawSection struct {
	Name  string    `json:"name"`
	Items []RawItem `json:"items"`
}

// RawItem is one model-referenced catalog unit. Name, Category and Tags are
// hints the model echoes back; only ID is authoritative once resolved.
type RawItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Category string          `json:"category,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

func (o RawOutput) ItemCount() int {
	total := 0
	for _, section := range o.Sections {
		total += len(section.Items)
	}
	return total
}

// Plan is the repaired output. Item names and asset refs come from the catalog.
type Plan struct {
	Kind     JobKind       `json:"kind"`
	Title    string        `json:"title"`
	Sections []PlanSection `json:"sections"`
	Notes    []string      `json:"notes,omitempty"`
}

type PlanSection struct {
	Name  string     `json:"name"`
	Items []PlanItem `json:"items"`
}

type PlanItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	AssetRef string          `json:"asset_ref"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// JobResult is the payload stored on completed jobs and in the cache.
type JobResult struct {
	Plan     Plan           `json:"plan"`
	Metadata ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	Fingerprint    string            `json:"fingerprint"`
	CatalogVersion string            `json:"catalog_version,omitempty"`
	ModelID        string            `json:"model_id,omitempty"`
	Attempts       int               `json:"attempts"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Validation     *ValidationReport `json:"validation,omitempty"`
}
