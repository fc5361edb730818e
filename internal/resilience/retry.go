package resilience

import "time"

// Decision is the outcome of evaluating a classified failure at a given
// attempt number.
type Decision struct {
	Category    Category
	Permanent   bool
	ShouldRetry bool
	RetryAfter  time.Duration
}

// RetryPolicy computes backoff schedules. Rate limits clear on a much
// slower clock than transient network failures, so they get a larger base
// and a higher attempt ceiling. Delays are returned to the caller, never
// slept internally.
type RetryPolicy struct {
	TransientBase        time.Duration
	RateLimitBase        time.Duration
	TransientMaxAttempts int
	RateLimitMaxAttempts int
}

func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TransientBase:        time.Second,
		RateLimitBase:        time.Minute,
		TransientMaxAttempts: 10,
		RateLimitMaxAttempts: 15,
	}
}

// Evaluate returns the retry decision for the given category and attempt.
// Attempt numbering starts at 1 for the first failed call.
func (p RetryPolicy) Evaluate(category Category, attempt int) Decision {
	decision := Decision{Category: category}

	if category.Permanent() {
		decision.Permanent = true
		return decision
	}

	if attempt < 1 {
		attempt = 1
	}

	if category == CategoryRateLimit {
		if attempt >= p.RateLimitMaxAttempts {
			return decision
		}
		decision.ShouldRetry = true
		decision.RetryAfter = p.RateLimitBase << uint(attempt-1)
		return decision
	}

	if attempt >= p.TransientMaxAttempts {
		return decision
	}
	decision.ShouldRetry = true
	decision.RetryAfter = p.TransientBase << uint(attempt)
	return decision
}
