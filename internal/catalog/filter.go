package catalog

import (
	"sort"

	"github.com/iago/fitcoach-back/internal/domain"
)

type FilterConfig struct {
	MinCandidates int
	MaxCandidates int
}

// CandidateFilter reduces the catalog to the allowed set for one request.
// Hard constraints drop items; the soft score only orders the survivors.
type CandidateFilter struct {
	catalog *Catalog
	min     int
	max     int
}

func NewCandidateFilter(catalog *Catalog, config FilterConfig) *CandidateFilter {
	if config.MinCandidates <= 0 {
		config.MinCandidates = 20
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 60
	}
	if config.MaxCandidates < config.MinCandidates {
		config.MaxCandidates = config.MinCandidates
	}
	return &CandidateFilter{
		catalog: catalog,
		min:     config.MinCandidates,
		max:     config.MaxCandidates,
	}
}

func (f *CandidateFilter) Catalog() *Catalog {
	return f.catalog
}

// Filter expects normalized params and is deterministic for a given catalog.
func (f *CandidateFilter) Filter(params domain.GenerationParams) ([]domain.CatalogItem, error) {
	itemKind := params.Kind.ItemKind()
	excluded := toSet(params.Exclusions())
	equipment := toSet(params.Equipment)
	for _, always := range bodyweightEquipment {
		equipment[always] = struct{}{}
	}
	focus := toSet(params.Focus)
	userLevel, hasLevel := levelRank[params.ExperienceLevel]

	type scored struct {
		item  domain.CatalogItem
		score int
	}
	candidates := make([]scored, 0, 64)
	for _, item := range f.catalog.All(itemKind) {
		if intersects(item.ExclusionTags, excluded) {
			continue
		}

		if itemKind == domain.ItemKindExercise {
			if !subsetOf(item.Equipment, equipment) {
				continue
			}
			if itemLevel, ok := levelRank[item.Level]; ok && hasLevel && itemLevel > userLevel {
				continue
			}
		}

		if itemKind == domain.ItemKindFood && params.Diet != "" && !contains(item.DietFlags, params.Diet) {
			continue
		}

		candidates = append(candidates, scored{item: item, score: score(item, params, focus, userLevel, hasLevel)})
	}

	if len(candidates) < f.min {
		return nil, &domain.InsufficientCandidatesError{
			Kind:      params.Kind,
			Required:  f.min,
			Available: len(candidates),
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item.ID < candidates[j].item.ID
	})
	if len(candidates) > f.max {
		candidates = candidates[:f.max]
	}

	out := make([]domain.CatalogItem, 0, len(candidates))
	for _, candidate := range candidates {
		out = append(out, candidate.item)
	}
	return out, nil
}

var levelRank = map[string]int{
	"beginner":     1,
	"intermediate": 2,
	"advanced":     3,
}

var bodyweightEquipment = []string{"bodyweight", "none"}

func score(item domain.CatalogItem, params domain.GenerationParams, focus map[string]struct{}, userLevel int, hasLevel bool) int {
	total := 0
	for _, category := range item.Categories {
		if _, ok := focus[category]; ok {
			total += 3
		}
	}
	for _, attribute := range item.Attributes {
		if _, ok := focus[attribute]; ok {
			total++
		}
	}
	if params.Goal != "" && contains(item.Attributes, params.Goal) {
		total += 2
	}
	if hasLevel {
		if itemLevel, ok := levelRank[item.Level]; ok {
			switch userLevel - itemLevel {
			case 0:
				total += 2
			case 1:
				total++
			}
		}
	}
	for _, needed := range item.Equipment {
		if needed != "bodyweight" && needed != "none" && contains(params.Equipment, needed) {
			total++
			break
		}
	}
	return total
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func intersects(values []string, set map[string]struct{}) bool {
	for _, value := range values {
		if _, ok := set[value]; ok {
			return true
		}
	}
	return false
}

func subsetOf(values []string, set map[string]struct{}) bool {
	for _, value := range values {
		if _, ok := set[value]; !ok {
			return false
		}
	}
	return true
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
