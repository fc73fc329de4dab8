package domain

// GenerationParams is the normalized request payload supplied by the
// profile/preferences collaborator. Meal and workout plans share one shape;
// fields irrelevant to a kind stay zero.
type GenerationParams struct {
	Kind            JobKind  `json:"kind"`
	Goal            string   `json:"goal,omitempty"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	Equipment       []string `json:"equipment,omitempty"`
	Injuries        []string `json:"injuries,omitempty"`
	Focus           []string `json:"focus,omitempty"`
	DaysPerWeek     int      `json:"days_per_week,omitempty"`
	SessionMinutes  int      `json:"session_minutes,omitempty"`
	Calories        int      `json:"calories,omitempty"`
	Diet            string   `json:"diet,omitempty"`
	Allergies       []string `json:"allergies,omitempty"`
	MealsPerDay     int      `json:"meals_per_day,omitempty"`
}

// Exclusions merges every tag that must not appear on a served item.
func (p GenerationParams) Exclusions() []string {
	out := make([]string, 0, len(p.Injuries)+len(p.Allergies))
	out = append(out, p.Injuries...)
	out = append(out, p.Allergies...)
	return out
}
