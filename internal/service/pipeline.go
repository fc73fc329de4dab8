package service

import (
	"context"
	"time"

	"github.com/iago/fitcoach-back/internal/ai"
	"github.com/iago/fitcoach-back/internal/domain"
)

type CandidateFilter interface {
	Filter(params domain.GenerationParams) ([]domain.CatalogItem, error)
}

type GenerationInvoker interface {
	Invoke(ctx context.Context, request ai.InvokeRequest) (domain.RawOutput, error)
}

type PlanValidator interface {
	Validate(kind domain.JobKind, raw domain.RawOutput, allowed []domain.CatalogItem) (domain.Plan, domain.ValidationReport, error)
}

// Pipeline is filter, then one model call, then repair. The allowed set is
// computed once per invocation and reused across attempts.
type Pipeline struct {
	filter    CandidateFilter
	invoker   GenerationInvoker
	validator PlanValidator
}

func NewPipeline(filter CandidateFilter, invoker GenerationInvoker, validator PlanValidator) *Pipeline {
	return &Pipeline{
		filter:    filter,
		invoker:   invoker,
		validator: validator,
	}
}

func (p *Pipeline) Prepare(params domain.GenerationParams) ([]domain.CatalogItem, error) {
	return p.filter.Filter(params)
}

type AttemptResult struct {
	Plan    domain.Plan
	Report  domain.ValidationReport
	ModelID string
}

func (p *Pipeline) Attempt(
	ctx context.Context,
	params domain.GenerationParams,
	allowed []domain.CatalogItem,
	attempt int,
	budget time.Duration,
) (AttemptResult, error) {
	raw, err := p.invoker.Invoke(ctx, ai.InvokeRequest{
		Params:  params,
		Allowed: allowed,
		Budget:  budget,
		Attempt: attempt,
	})
	if err != nil {
		return AttemptResult{}, err
	}

	plan, report, err := p.validator.Validate(params.Kind, raw, allowed)
	if err != nil {
		return AttemptResult{}, err
	}
	return AttemptResult{Plan: plan, Report: report, ModelID: raw.ModelID}, nil
}
