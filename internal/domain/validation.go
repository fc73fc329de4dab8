package domain

type ItemStatus string

const (
	ItemStatusValid                     ItemStatus = "VALID"
	ItemStatusReplaced                  ItemStatus = "REPLACED"
	ItemStatusReplacedFromHallucination ItemStatus = "REPLACED_FROM_HALLUCINATION"
	ItemStatusUnresolved                ItemStatus = "UNRESOLVED"
)

type RepairStrategy string

const (
	StrategyNone                 RepairStrategy = ""
	StrategyAttributeAndCategory RepairStrategy = "attribute_and_category"
	StrategyCategory             RepairStrategy = "category"
	StrategyFallbackFirst        RepairStrategy = "fallback_first"
)

type ItemResult struct {
	Section    string         `json:"section"`
	Position   int            `json:"position"`
	OriginalID string         `json:"original_id"`
	FinalID    string         `json:"final_id,omitempty"`
	Status     ItemStatus     `json:"status"`
	Strategy   RepairStrategy `json:"strategy,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// ValidationReport is produced fresh per generation attempt and only travels
// inside the owning job's result metadata or error payload.
type ValidationReport struct {
	ItemResults  []ItemResult `json:"item_results"`
	Warnings     []string     `json:"warnings,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
	Valid        int          `json:"valid"`
	Replaced     int          `json:"replaced"`
	Hallucinated int          `json:"hallucinated"`
	Unresolved   int          `json:"unresolved"`
}

func (r *ValidationReport) Add(result ItemResult) {
	r.ItemResults = append(r.ItemResults, result)
	switch result.Status {
	case ItemStatusValid:
		r.Valid++
	case ItemStatusReplaced:
		r.Replaced++
	case ItemStatusReplacedFromHallucination:
		r.Hallucinated++
	case ItemStatusUnresolved:
		r.Hallucinated++
		r.Unresolved++
	}
}

func (r ValidationReport) Total() int {
	return len(r.ItemResults)
}

// UnresolvedIDs lists the original ids that could not be resolved.
func (r ValidationReport) UnresolvedIDs() []string {
	ids := make([]string, 0, r.Unresolved)
	for _, item := range r.ItemResults {
		if item.Status == ItemStatusUnresolved {
			ids = append(ids, item.OriginalID)
		}
	}
	return ids
}
