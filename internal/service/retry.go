package service

import (
	"errors"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
)

// RetryPolicy decides whether a failed generation attempt is followed by
// another one. Attempts and hallucinations are counted on the job, across
// invocations.
type RetryPolicy struct {
	MaxAttempts              int
	HallucinationMaxAttempts int
	BaseBackoff              time.Duration
	MaxBackoff               time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.HallucinationMaxAttempts <= 0 {
		p.HallucinationMaxAttempts = 2
	}
	if p.HallucinationMaxAttempts > p.MaxAttempts {
		p.HallucinationMaxAttempts = p.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 2 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	return p
}

// Decide reports whether another attempt may follow the one that just failed
// with err, and how long to wait before it. attempts and hallucinations both
// include the failed one.
func (p RetryPolicy) Decide(err error, attempts, hallucinations int) (bool, time.Duration) {
	var (
		timeout      *domain.GenerationTimeoutError
		provider     *domain.GenerationProviderError
		hallucinated *domain.HallucinationError
	)

	switch {
	case errors.As(err, &timeout), errors.As(err, &provider):
	case errors.As(err, &hallucinated):
		if hallucinations >= p.HallucinationMaxAttempts {
			return false, 0
		}
	default:
		return false, 0
	}
	if attempts >= p.MaxAttempts {
		return false, 0
	}
	return true, p.backoff(attempts)
}

func (p RetryPolicy) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
