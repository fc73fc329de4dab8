package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iago/fitcoach-back/internal/domain"
)

const defaultMaxHallucinationRatio = 0.25

// CatalogLookup resolves ids against the full reference catalog.
type CatalogLookup interface {
	Get(id string) (domain.CatalogItem, bool)
}

type RepairConfig struct {
	MaxHallucinationRatio float64
}

// RepairEngine checks every referenced id of a model output against the
// allowed set and the catalog, replaces what it can and rejects the rest.
// A returned plan only references allowed items that carry an asset.
type RepairEngine struct {
	catalog  CatalogLookup
	maxRatio float64
}

func NewRepairEngine(catalog CatalogLookup, config RepairConfig) *RepairEngine {
	if config.MaxHallucinationRatio <= 0 {
		config.MaxHallucinationRatio = defaultMaxHallucinationRatio
	}
	return &RepairEngine{
		catalog:  catalog,
		maxRatio: config.MaxHallucinationRatio,
	}
}

type profile struct {
	categories map[string]struct{}
	attributes map[string]struct{}
}

type replacement struct {
	item     domain.CatalogItem
	strategy domain.RepairStrategy
}

func (e *RepairEngine) Validate(
	kind domain.JobKind,
	raw domain.RawOutput,
	allowed []domain.CatalogItem,
) (domain.Plan, domain.ValidationReport, error) {
	report := domain.ValidationReport{ItemResults: make([]domain.ItemResult, 0, raw.ItemCount())}
	if len(allowed) == 0 {
		return domain.Plan{}, report, fmt.Errorf("validate output: empty allowed set")
	}

	allowedIndex := make(map[string]domain.CatalogItem, len(allowed))
	for _, item := range allowed {
		allowedIndex[item.ID] = item
	}

	plan := domain.Plan{
		Kind:     kind,
		Title:    truncateAtWord(normalizeText(raw.Title), 120),
		Sections: make([]domain.PlanSection, 0, len(raw.Sections)),
		Notes:    normalizeNotes(raw.Notes),
	}

	for sectionIndex, rawSection := range raw.Sections {
		sectionName := normalizeText(rawSection.Name)
		if sectionName == "" {
			sectionName = fmt.Sprintf("Section %d", sectionIndex+1)
		}
		section := domain.PlanSection{Name: sectionName, Items: make([]domain.PlanItem, 0, len(rawSection.Items))}
		used := make(map[string]struct{}, len(rawSection.Items))

		for position, rawItem := range rawSection.Items {
			id := strings.TrimSpace(rawItem.ID)
			result := domain.ItemResult{Section: sectionName, Position: position, OriginalID: id}

			if item, ok := allowedIndex[id]; ok {
				result.FinalID = item.ID
				result.Status = domain.ItemStatusValid
				report.Add(result)
				used[item.ID] = struct{}{}
				section.Items = append(section.Items, e.planItem(item, rawItem))
				continue
			}

			if known, ok := e.catalog.Get(id); ok && id != "" {
				choice := e.replace(profileOf(known), allowed, used, true)
				result.FinalID = choice.item.ID
				result.Status = domain.ItemStatusReplaced
				result.Strategy = choice.strategy
				result.Reason = "catalog item outside allowed set"
				report.Add(result)
				report.Warnings = append(report.Warnings, fmt.Sprintf(
					"%s[%d]: %s is not allowed for this request, replaced with %s (%s)",
					sectionName, position, id, choice.item.ID, choice.strategy,
				))
				used[choice.item.ID] = struct{}{}
				section.Items = append(section.Items, e.planItem(choice.item, rawItem))
				continue
			}

			choice := e.replace(profileOfHallucination(rawItem), allowed, used, false)
			if choice.item.ID == "" {
				result.Status = domain.ItemStatusUnresolved
				result.Reason = "unknown id with no matching candidate"
				report.Add(result)
				report.Errors = append(report.Errors, fmt.Sprintf(
					"%s[%d]: unknown id %q could not be resolved", sectionName, position, id,
				))
				continue
			}
			result.FinalID = choice.item.ID
			result.Status = domain.ItemStatusReplacedFromHallucination
			result.Strategy = choice.strategy
			result.Reason = "unknown id"
			report.Add(result)
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%s[%d]: unknown id %q replaced with %s (%s)",
				sectionName, position, id, choice.item.ID, choice.strategy,
			))
			used[choice.item.ID] = struct{}{}
			section.Items = append(section.Items, e.planItem(choice.item, rawItem))
		}

		plan.Sections = append(plan.Sections, section)
	}

	if report.Unresolved > 0 {
		return domain.Plan{}, report, &domain.HallucinationError{
			Report:     report,
			Unresolved: report.UnresolvedIDs(),
		}
	}
	if total := report.Total(); total > 0 {
		ratio := float64(report.Hallucinated) / float64(total)
		if ratio > e.maxRatio {
			return domain.Plan{}, report, &domain.HallucinationError{
				Report:            report,
				HallucinatedRatio: ratio,
			}
		}
	}

	if missing := e.missingAssets(plan); len(missing) > 0 {
		return domain.Plan{}, report, &domain.CatalogIntegrityError{ItemIDs: missing, Report: report}
	}

	return plan, report, nil
}

func (e *RepairEngine) planItem(item domain.CatalogItem, raw domain.RawItem) domain.PlanItem {
	if resolved, ok := e.catalog.Get(item.ID); ok {
		item = resolved
	}
	return domain.PlanItem{
		ID:       item.ID,
		Name:     item.Name,
		AssetRef: item.AssetRef,
		Details:  append([]byte(nil), raw.Details...),
	}
}

// replace searches the allowed set: attribute and category overlap first,
// then category overlap, then (only when allowFallback) the first allowed
// item. Items not yet used in the section win over used ones in every tier.
func (e *RepairEngine) replace(
	want profile,
	allowed []domain.CatalogItem,
	used map[string]struct{},
	allowFallback bool,
) replacement {
	type ranked struct {
		item     domain.CatalogItem
		order    int
		score    int
		reused   bool
		strategy domain.RepairStrategy
	}

	candidates := make([]ranked, 0, len(allowed))
	for order, item := range allowed {
		categoryHits := overlap(item.Categories, want.categories)
		if categoryHits == 0 {
			continue
		}
		attributeHits := overlap(item.Attributes, want.attributes)
		strategy := domain.StrategyCategory
		if attributeHits > 0 {
			strategy = domain.StrategyAttributeAndCategory
		}
		_, reused := used[item.ID]
		candidates = append(candidates, ranked{
			item:     item,
			order:    order,
			score:    attributeHits*2 + categoryHits,
			reused:   reused,
			strategy: strategy,
		})
	}

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			left, right := candidates[i], candidates[j]
			if left.strategy != right.strategy {
				return left.strategy == domain.StrategyAttributeAndCategory
			}
			if left.reused != right.reused {
				return !left.reused
			}
			if left.score != right.score {
				return left.score > right.score
			}
			return left.order < right.order
		})
		return replacement{item: candidates[0].item, strategy: candidates[0].strategy}
	}

	if !allowFallback {
		return replacement{}
	}
	for _, item := range allowed {
		if _, reused := used[item.ID]; !reused {
			return replacement{item: item, strategy: domain.StrategyFallbackFirst}
		}
	}
	return replacement{item: allowed[0], strategy: domain.StrategyFallbackFirst}
}

func (e *RepairEngine) missingAssets(plan domain.Plan) []string {
	seen := make(map[string]struct{})
	missing := make([]string, 0)
	for _, section := range plan.Sections {
		for _, item := range section.Items {
			if strings.TrimSpace(item.AssetRef) != "" {
				continue
			}
			if _, exists := seen[item.ID]; exists {
				continue
			}
			seen[item.ID] = struct{}{}
			missing = append(missing, item.ID)
		}
	}
	return missing
}

func profileOf(item domain.CatalogItem) profile {
	return profile{
		categories: tagSet(item.Categories),
		attributes: tagSet(item.Attributes),
	}
}

// Unknown ids only carry the hints the model echoed back, so every token
// counts as both a category and an attribute candidate.
func profileOfHallucination(item domain.RawItem) profile {
	tokens := make([]string, 0, len(item.Tags)+4)
	tokens = append(tokens, item.Category)
	tokens = append(tokens, item.Tags...)
	tokens = append(tokens, strings.FieldsFunc(strings.ToLower(item.Name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})...)
	set := tagSet(tokens)
	return profile{categories: set, attributes: set}
}

func tagSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		set[value] = struct{}{}
	}
	return set
}

func overlap(values []string, set map[string]struct{}) int {
	count := 0
	for _, value := range values {
		if _, ok := set[value]; ok {
			count++
		}
	}
	return count
}

func normalizeNotes(notes []string) []string {
	out := make([]string, 0, len(notes))
	for _, note := range notes {
		note = truncateAtWord(normalizeText(note), 280)
		if note == "" {
			continue
		}
		out = append(out, note)
		if len(out) == 10 {
			break
		}
	}
	return out
}

func normalizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parts := strings.Fields(trimmed)
	return strings.Join(parts, " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	lastSpace := strings.LastIndex(cut, " ")
	if lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}
