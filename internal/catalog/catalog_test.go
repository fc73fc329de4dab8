package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/iago/fitcoach-back/internal/domain"
)

const seedPath = "../../data/catalog.yaml"

func TestSeedCatalogLoadsWithFullAssetCoverage(t *testing.T) {
	catalog, err := LoadFile(seedPath)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if catalog.Version() != "2026.10.1" {
		t.Fatalf("unexpected version %q", catalog.Version())
	}
	if missing := catalog.MissingAssets(); len(missing) != 0 {
		t.Fatalf("seed items without asset: %v", missing)
	}
	if len(catalog.All(domain.ItemKindExercise)) == 0 || len(catalog.All(domain.ItemKindFood)) == 0 {
		t.Fatalf("expected both item kinds in seed catalog")
	}
	item, ok := catalog.Get("ex-pull-up")
	if !ok {
		t.Fatalf("expected ex-pull-up in seed catalog")
	}
	if len(item.Equipment) != 1 || item.Equipment[0] != "pull-up bar" {
		t.Fatalf("unexpected equipment %v", item.Equipment)
	}
}

func TestNewRejectsDuplicatedIDs(t *testing.T) {
	_, err := New("v1", []domain.CatalogItem{
		{ID: "a", Kind: domain.ItemKindFood, AssetRef: "x"},
		{ID: " a ", Kind: domain.ItemKindFood, AssetRef: "y"},
	})
	if err == nil {
		t.Fatalf("expected duplicated id error")
	}
}

func TestNewDerivesVersionFromContent(t *testing.T) {
	items := []domain.CatalogItem{{ID: "a", Kind: domain.ItemKindFood, AssetRef: "x"}}
	first, err := New("", items)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	items[0].AssetRef = "z"
	second, err := New("", items)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if first.Version() == "" || first.Version() == second.Version() {
		t.Fatalf("expected content versions to differ, got %q and %q", first.Version(), second.Version())
	}
}

func TestFilterVegetarianMealPlanKeepsOnlyFlaggedFoods(t *testing.T) {
	catalog, err := LoadFile(seedPath)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	filter := NewCandidateFilter(catalog, FilterConfig{MinCandidates: 20, MaxCandidates: 60})

	allowed, err := filter.Filter(domain.GenerationParams{
		Kind:      domain.JobKindMealPlan,
		Goal:      "weight_loss",
		Diet:      "vegetarian",
		Allergies: []string{"peanut"},
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(allowed) < 20 {
		t.Fatalf("expected at least 20 candidates, got %d", len(allowed))
	}
	for _, item := range allowed {
		if item.Kind != domain.ItemKindFood {
			t.Fatalf("unexpected kind for %s", item.ID)
		}
		if !contains(item.DietFlags, "vegetarian") {
			t.Fatalf("non vegetarian item %s passed the filter", item.ID)
		}
		if contains(item.ExclusionTags, "peanut") {
			t.Fatalf("peanut item %s passed the filter", item.ID)
		}
	}
}

func TestFilterRespectsEquipmentLevelAndInjuries(t *testing.T) {
	catalog, err := LoadFile(seedPath)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	filter := NewCandidateFilter(catalog, FilterConfig{MinCandidates: 10, MaxCandidates: 60})

	allowed, err := filter.Filter(domain.GenerationParams{
		Kind:            domain.JobKindWorkoutPlan,
		Goal:            "strength",
		ExperienceLevel: "intermediate",
		Equipment:       []string{"dumbbell"},
		Injuries:        []string{"knee"},
		Focus:           []string{"legs"},
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	for _, item := range allowed {
		if item.Level == "advanced" {
			t.Fatalf("advanced item %s offered to intermediate user", item.ID)
		}
		if contains(item.ExclusionTags, "knee") {
			t.Fatalf("knee-excluded item %s passed the filter", item.ID)
		}
		for _, needed := range item.Equipment {
			if needed != "dumbbell" && needed != "bodyweight" {
				t.Fatalf("item %s needs unavailable equipment %q", item.ID, needed)
			}
		}
	}
	// Romanian deadlift is the only knee-safe legs item using a dumbbell.
	if allowed[0].ID != "ex-db-romanian-deadlift" {
		t.Fatalf("expected ex-db-romanian-deadlift first, got %s", allowed[0].ID)
	}
}

func TestFilterReturnsInsufficientCandidates(t *testing.T) {
	catalog, err := LoadFile(seedPath)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	filter := NewCandidateFilter(catalog, FilterConfig{MinCandidates: 20, MaxCandidates: 60})

	_, err = filter.Filter(domain.GenerationParams{
		Kind:            domain.JobKindWorkoutPlan,
		ExperienceLevel: "beginner",
	})
	var insufficient *domain.InsufficientCandidatesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCandidatesError, got %v", err)
	}
	if insufficient.Required != 20 || insufficient.Available >= 20 {
		t.Fatalf("unexpected error payload %+v", insufficient)
	}
}

func TestFilterIsDeterministicAndCapped(t *testing.T) {
	items := make([]domain.CatalogItem, 0, 80)
	for i := 0; i < 80; i++ {
		items = append(items, domain.CatalogItem{
			ID:         fmt.Sprintf("fd-%02d", i),
			Kind:       domain.ItemKindFood,
			Categories: []string{"lunch"},
			AssetRef:   "asset",
		})
	}
	catalog, err := New("v1", items)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	filter := NewCandidateFilter(catalog, FilterConfig{MinCandidates: 20, MaxCandidates: 60})
	params := domain.GenerationParams{Kind: domain.JobKindMealPlan, Focus: []string{"lunch"}}

	first, err := filter.Filter(params)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	second, err := filter.Filter(params)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(first) != 60 {
		t.Fatalf("expected 60 candidates, got %d", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("filter output differs at %d", i)
		}
	}
	if first[0].ID != "fd-00" || first[59].ID != "fd-59" {
		t.Fatalf("expected id ordering on equal scores, got %s..%s", first[0].ID, first[59].ID)
	}
}
