package ai

import (
	"strings"

	"github.com/iago/fitcoach-back/internal/domain"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

// ModelFor picks the primary model on the first attempt and the fallback
// on every later one.
func (p ModelProfile) ModelFor(attempt int) string {
	if attempt > 1 && strings.TrimSpace(p.FallbackModel) != "" {
		return p.FallbackModel
	}
	return p.PrimaryModel
}

type ModelRouterConfig struct {
	MealPlanPrimary  string
	MealPlanFallback string

	WorkoutPlanPrimary  string
	WorkoutPlanFallback string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.MealPlanPrimary) == "" {
		config.MealPlanPrimary = "gpt-4.1-mini"
	}
	if strings.TrimSpace(config.MealPlanFallback) == "" {
		config.MealPlanFallback = "gpt-4.1"
	}
	if strings.TrimSpace(config.WorkoutPlanPrimary) == "" {
		config.WorkoutPlanPrimary = "gpt-4.1-mini"
	}
	if strings.TrimSpace(config.WorkoutPlanFallback) == "" {
		config.WorkoutPlanFallback = "gpt-4.1"
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(kind domain.JobKind) ModelProfile {
	switch kind {
	case domain.JobKindMealPlan:
		return ModelProfile{
			PrimaryModel:    r.config.MealPlanPrimary,
			FallbackModel:   r.config.MealPlanFallback,
			Temperature:     0.3,
			MaxOutputTokens: 3000,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.WorkoutPlanPrimary,
			FallbackModel:   r.config.WorkoutPlanFallback,
			Temperature:     0.3,
			MaxOutputTokens: 2400,
		}
	}
}
