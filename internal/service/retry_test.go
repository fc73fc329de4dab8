package service

import (
	"errors"
	"testing"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
)

func TestRetryPolicyDecide(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	timeout := &domain.GenerationTimeoutError{Model: "m", Budget: time.Second}
	provider := &domain.GenerationProviderError{Model: "m", StatusCode: 429, Err: errors.New("slow down")}
	hallucinated := &domain.HallucinationError{Unresolved: []string{"x"}}

	cases := []struct {
		name           string
		err            error
		attempts       int
		hallucinations int
		retry          bool
		wait           time.Duration
	}{
		{name: "timeout first", err: timeout, attempts: 1, retry: true, wait: 2 * time.Second},
		{name: "provider second", err: provider, attempts: 2, retry: true, wait: 4 * time.Second},
		{name: "provider exhausted", err: provider, attempts: 3},
		{name: "hallucination first", err: hallucinated, attempts: 1, hallucinations: 1, retry: true, wait: 2 * time.Second},
		{name: "hallucination exhausted", err: hallucinated, attempts: 2, hallucinations: 2},
		{name: "hallucination after timeout", err: hallucinated, attempts: 2, hallucinations: 1, retry: true, wait: 4 * time.Second},
		{name: "hallucination on last attempt", err: hallucinated, attempts: 3, hallucinations: 1},
		{name: "timeout after hallucination", err: timeout, attempts: 2, hallucinations: 1, retry: true, wait: 4 * time.Second},
		{name: "integrity", err: &domain.CatalogIntegrityError{ItemIDs: []string{"a"}}, attempts: 1},
		{name: "insufficient", err: &domain.InsufficientCandidatesError{Required: 20}, attempts: 1},
		{name: "unknown", err: errors.New("boom"), attempts: 1},
	}

	for _, tc := range cases {
		retry, wait := policy.Decide(tc.err, tc.attempts, tc.hallucinations)
		if retry != tc.retry || wait != tc.wait {
			t.Fatalf("%s: expected (%v, %s), got (%v, %s)", tc.name, tc.retry, tc.wait, retry, wait)
		}
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}.withDefaults()
	if got := policy.backoff(4); got != 16*time.Second {
		t.Fatalf("expected 16s, got %s", got)
	}
	if got := policy.backoff(8); got != 30*time.Second {
		t.Fatalf("expected cap of 30s, got %s", got)
	}
}
