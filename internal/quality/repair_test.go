package quality

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/iago/fitcoach-back/internal/domain"
)

type lookup map[string]domain.CatalogItem

func (l lookup) Get(id string) (domain.CatalogItem, bool) {
	item, ok := l[id]
	return item, ok
}

func food(id string, categories []string, attributes []string, diet ...string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:         id,
		Name:       "Food " + id,
		Kind:       domain.ItemKindFood,
		Categories: categories,
		Attributes: attributes,
		DietFlags:  diet,
		AssetRef:   "assets/foods/" + id + ".jpg",
	}
}

func vegetarianFixture() (lookup, []domain.CatalogItem) {
	items := []domain.CatalogItem{
		food("fd-oatmeal", []string{"breakfast"}, []string{"high_fiber", "weight_loss"}, "vegetarian"),
		food("fd-lentil-soup", []string{"lunch", "dinner"}, []string{"high_fiber", "high_protein", "weight_loss"}, "vegetarian"),
		food("fd-quinoa-salad", []string{"lunch"}, []string{"high_fiber", "weight_loss"}, "vegetarian"),
		food("fd-veggie-chili", []string{"dinner"}, []string{"high_fiber", "high_protein"}, "vegetarian"),
		food("fd-fruit-salad", []string{"snack"}, []string{"low_fat"}, "vegetarian"),
		food("fd-grilled-chicken-salad", []string{"lunch"}, []string{"high_protein", "weight_loss"}),
		food("fd-beef-stir-fry", []string{"dinner"}, []string{"high_protein", "muscle_gain"}),
	}
	catalog := lookup{}
	allowed := make([]domain.CatalogItem, 0)
	for _, item := range items {
		catalog[item.ID] = item
		if len(item.DietFlags) > 0 {
			allowed = append(allowed, item)
		}
	}
	return catalog, allowed
}

func TestValidateReplacesNonVegetarianItemWithAllowedMatch(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	engine := NewRepairEngine(catalog, RepairConfig{})

	raw := domain.RawOutput{
		Title: "  Vegetarian   week ",
		Sections: []domain.RawSection{{
			Name: "Monday",
			Items: []domain.RawItem{
				{ID: "fd-oatmeal"},
				{ID: "fd-grilled-chicken-salad", Name: "Chicken salad"},
				{ID: "fd-veggie-chili"},
				{ID: "fd-fruit-salad"},
			},
		}},
	}

	plan, report, err := engine.Validate(domain.JobKindMealPlan, raw, allowed)
	if err != nil {
		t.Fatalf("expected repaired plan, got %v", err)
	}
	if plan.Title != "Vegetarian week" {
		t.Fatalf("unexpected title %q", plan.Title)
	}
	if report.Valid != 3 || report.Replaced != 1 || report.Hallucinated != 0 {
		t.Fatalf("unexpected counters %+v", report)
	}

	result := report.ItemResults[1]
	if result.Status != domain.ItemStatusReplaced {
		t.Fatalf("expected REPLACED, got %s", result.Status)
	}
	if result.FinalID != "fd-lentil-soup" || result.Strategy != domain.StrategyAttributeAndCategory {
		t.Fatalf("unexpected replacement %+v", result)
	}
	if len(report.Warnings) != 1 || len(report.Errors) != 0 {
		t.Fatalf("expected one warning and no errors, got %v / %v", report.Warnings, report.Errors)
	}

	replaced := plan.Sections[0].Items[1]
	if replaced.ID != "fd-lentil-soup" || replaced.Name != "Food fd-lentil-soup" || replaced.AssetRef == "" {
		t.Fatalf("replacement must carry catalog name and asset, got %+v", replaced)
	}
}

func TestValidateFallsBackToFirstUnusedAllowedItem(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	catalog["fd-bacon"] = food("fd-bacon", []string{"side"}, []string{"high_fat"})
	engine := NewRepairEngine(catalog, RepairConfig{})

	_, report, err := engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
		Sections: []domain.RawSection{{
			Name:  "Day 1",
			Items: []domain.RawItem{{ID: "fd-oatmeal"}, {ID: "fd-bacon"}},
		}},
	}, allowed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	result := report.ItemResults[1]
	if result.Strategy != domain.StrategyFallbackFirst || result.FinalID != "fd-lentil-soup" {
		t.Fatalf("expected fallback to first unused allowed item, got %+v", result)
	}
}

func TestValidateRejectsUnresolvedHallucination(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	engine := NewRepairEngine(catalog, RepairConfig{})

	_, _, err := engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
		Sections: []domain.RawSection{{
			Name: "Day 1",
			Items: []domain.RawItem{
				{ID: "fd-oatmeal"},
				{ID: "fd-lentil-soup"},
				{ID: "fd-quinoa-salad"},
				{ID: "fd-veggie-chili"},
				{ID: "fd-unicorn-steak", Name: "Unicorn steak", Category: "dessert"},
			},
		}},
	}, allowed)

	var hallucinated *domain.HallucinationError
	if !errors.As(err, &hallucinated) {
		t.Fatalf("expected HallucinationError, got %v", err)
	}
	if len(hallucinated.Unresolved) != 1 || hallucinated.Unresolved[0] != "fd-unicorn-steak" {
		t.Fatalf("expected unresolved id listed, got %v", hallucinated.Unresolved)
	}
	if hallucinated.Report.Unresolved != 1 || hallucinated.Report.Total() != 5 {
		t.Fatalf("expected full report attached, got %+v", hallucinated.Report)
	}
}

func TestValidateHallucinationRatioThreshold(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	engine := NewRepairEngine(catalog, RepairConfig{MaxHallucinationRatio: 0.25})
	invented := domain.RawItem{ID: "fd-mystery-bowl", Name: "Lunch bowl", Category: "lunch", Tags: []string{"high_protein"}}

	_, report, err := engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
		Sections: []domain.RawSection{{
			Name:  "Day 1",
			Items: []domain.RawItem{{ID: "fd-oatmeal"}, {ID: "fd-veggie-chili"}, {ID: "fd-fruit-salad"}, invented},
		}},
	}, allowed)
	if err != nil {
		t.Fatalf("one hallucination out of four is at the threshold, got %v", err)
	}
	if report.ItemResults[3].Status != domain.ItemStatusReplacedFromHallucination {
		t.Fatalf("expected REPLACED_FROM_HALLUCINATION, got %+v", report.ItemResults[3])
	}
	if report.ItemResults[3].FinalID != "fd-lentil-soup" {
		t.Fatalf("expected hint based replacement, got %s", report.ItemResults[3].FinalID)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("hallucinations are error severity, got %v", report.Errors)
	}

	_, _, err = engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
		Sections: []domain.RawSection{{
			Name:  "Day 1",
			Items: []domain.RawItem{{ID: "fd-oatmeal"}, {ID: "fd-veggie-chili"}, invented},
		}},
	}, allowed)
	var hallucinated *domain.HallucinationError
	if !errors.As(err, &hallucinated) {
		t.Fatalf("expected ratio rejection, got %v", err)
	}
	if hallucinated.HallucinatedRatio <= 0.25 {
		t.Fatalf("unexpected ratio %.2f", hallucinated.HallucinatedRatio)
	}
}

func TestValidateRejectsItemsWithoutAsset(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	broken := catalog["fd-quinoa-salad"]
	broken.AssetRef = ""
	catalog[broken.ID] = broken
	for index := range allowed {
		if allowed[index].ID == broken.ID {
			allowed[index] = broken
		}
	}
	engine := NewRepairEngine(catalog, RepairConfig{})

	_, _, err := engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
		Sections: []domain.RawSection{{
			Name:  "Day 1",
			Items: []domain.RawItem{{ID: "fd-oatmeal"}, {ID: "fd-quinoa-salad"}},
		}},
	}, allowed)

	var integrity *domain.CatalogIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected CatalogIntegrityError, got %v", err)
	}
	if len(integrity.ItemIDs) != 1 || integrity.ItemIDs[0] != "fd-quinoa-salad" {
		t.Fatalf("unexpected ids %v", integrity.ItemIDs)
	}
	if domain.NewJobError(err).Retryable || !domain.NewJobError(err).Operational {
		t.Fatalf("integrity failures must be operational and not retryable")
	}
}

func TestValidateNeverServesIDsOutsideAllowedSet(t *testing.T) {
	catalog, allowed := vegetarianFixture()
	engine := NewRepairEngine(catalog, RepairConfig{MaxHallucinationRatio: 1})
	allowedIDs := make(map[string]struct{}, len(allowed))
	for _, item := range allowed {
		allowedIDs[item.ID] = struct{}{}
	}
	pool := []domain.RawItem{
		{ID: "fd-oatmeal"},
		{ID: "fd-beef-stir-fry"},
		{ID: "fd-grilled-chicken-salad"},
		{ID: "fd-made-up", Category: "dinner"},
		{ID: "fd-nothing", Name: "Space food"},
		{ID: ""},
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 300; round++ {
		items := make([]domain.RawItem, 1+rng.Intn(6))
		for i := range items {
			items[i] = pool[rng.Intn(len(pool))]
		}
		plan, report, err := engine.Validate(domain.JobKindMealPlan, domain.RawOutput{
			Sections: []domain.RawSection{{Name: fmt.Sprintf("Day %d", round), Items: items}},
		}, allowed)
		if err != nil {
			if len(plan.Sections) != 0 {
				t.Fatalf("round %d: failed validation must not return a plan", round)
			}
			continue
		}
		if report.Unresolved != 0 {
			t.Fatalf("round %d: successful validation with unresolved items", round)
		}
		for _, section := range plan.Sections {
			for _, item := range section.Items {
				if _, ok := allowedIDs[item.ID]; !ok {
					t.Fatalf("round %d: served id %q outside allowed set", round, item.ID)
				}
			}
		}
	}
}
