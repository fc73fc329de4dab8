package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	CodeInsufficientCandidates ErrorCode = "insufficient_candidates"
	CodeGenerationTimeout      ErrorCode = "generation_timeout"
	CodeGenerationProvider     ErrorCode = "generation_provider_error"
	CodeHallucination          ErrorCode = "hallucination"
	CodeCatalogIntegrity       ErrorCode = "catalog_integrity"
	CodeExpired                ErrorCode = "expired"
	CodeInternal               ErrorCode = "internal_error"
)

// JobError is the machine-readable failure stored on FAILED and EXPIRED jobs.
// Retryable tells the client a fresh submission may succeed; Operational
// flags data problems that need operator attention rather than a retry.
type JobError struct {
	Code        ErrorCode         `json:"code"`
	Message     string            `json:"message"`
	Retryable   bool              `json:"retryable"`
	Operational bool              `json:"operational,omitempty"`
	Report      *ValidationReport `json:"report,omitempty"`
}

type InsufficientCandidatesError struct {
	Kind      JobKind
	Required  int
	Available int
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates for %s: %d available, %d required", e.Kind, e.Available, e.Required)
}

type GenerationTimeoutError struct {
	Model  string
	Budget time.Duration
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("generation with model %q exceeded budget %s", e.Model, e.Budget)
}

func (e *GenerationTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// GenerationProviderError covers transport failures, non-2xx responses and
// structurally unusable output from the model provider.
type GenerationProviderError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *GenerationProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generation provider error model=%q status=%d: %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation provider error model=%q: %v", e.Model, e.Err)
}

func (e *GenerationProviderError) Unwrap() error {
	return e.Err
}

type HallucinationError struct {
	Report            ValidationReport
	Unresolved        []string
	HallucinatedRatio float64
}

func (e *HallucinationError) Error() string {
	if len(e.Unresolved) > 0 {
		return fmt.Sprintf("unresolved item references: %s", strings.Join(e.Unresolved, ", "))
	}
	return fmt.Sprintf("hallucinated reference ratio %.2f above threshold", e.HallucinatedRatio)
}

// CatalogIntegrityError means a resolved catalog item has no demonstration
// asset. It is a reference-data problem, not a generation problem.
type CatalogIntegrityError struct {
	ItemIDs []string
	Report  ValidationReport
}

func (e *CatalogIntegrityError) Error() string {
	return fmt.Sprintf("catalog items without asset reference: %s", strings.Join(e.ItemIDs, ", "))
}

// NewJobError maps a pipeline error to the payload persisted on the job.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}

	var (
		insufficient *InsufficientCandidatesError
		timeout      *GenerationTimeoutError
		provider     *GenerationProviderError
		hallucinated *HallucinationError
		integrity    *CatalogIntegrityError
	)
	switch {
	case errors.As(err, &insufficient):
		return &JobError{Code: CodeInsufficientCandidates, Message: insufficient.Error()}
	case errors.As(err, &timeout):
		return &JobError{Code: CodeGenerationTimeout, Message: timeout.Error(), Retryable: true}
	case errors.As(err, &provider):
		return &JobError{Code: CodeGenerationProvider, Message: provider.Error(), Retryable: true}
	case errors.As(err, &hallucinated):
		report := hallucinated.Report
		return &JobError{Code: CodeHallucination, Message: hallucinated.Error(), Retryable: true, Report: &report}
	case errors.As(err, &integrity):
		report := integrity.Report
		return &JobError{Code: CodeCatalogIntegrity, Message: integrity.Error(), Operational: true, Report: &report}
	default:
		return &JobError{Code: CodeInternal, Message: err.Error()}
	}
}
