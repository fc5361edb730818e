package resilience

import (
	"context"
)

// Handler composes the classifier, retry policy, and breaker registry into
// the failure-handling surface outbound callers use.
type Handler struct {
	classifier *Classifier
	policy     RetryPolicy
	breakers   Breakers
}

func NewHandler(classifier *Classifier, policy RetryPolicy, breakers Breakers) *Handler {
	return &Handler{
		classifier: classifier,
		policy:     policy,
		breakers:   breakers,
	}
}

// HandleFailure classifies a raw provider error, feeds the breaker, and
// returns the retry decision for the given attempt.
func (h *Handler) HandleFailure(ctx context.Context, provider, scope string, rawErr error, attempt int) Decision {
	category := h.classifier.Classify(provider, rawErr)
	h.breakers.OnFailure(ctx, provider, scope, category)
	return h.policy.Evaluate(category, attempt)
}

// Do runs a single breaker-guarded call. It does not retry; callers own
// their backoff schedule via HandleFailure.
func (h *Handler) Do(ctx context.Context, provider, scope string, fn func(context.Context) error) error {
	if !h.breakers.Allow(ctx, provider, scope) {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		h.breakers.OnFailure(ctx, provider, scope, h.classifier.Classify(provider, err))
		return err
	}
	h.breakers.OnSuccess(ctx, provider, scope)
	return nil
}
