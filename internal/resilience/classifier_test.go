package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCardRailErrorTypes(t *testing.T) {
	classifier := NewClassifier()

	cases := map[string]Category{
		"authentication_error":  CategoryAuth,
		"invalid_request_error": CategoryValidation,
		"rate_limit_error":      CategoryRateLimit,
		"api_error":             CategoryServerError,
	}
	for kind, want := range cases {
		err := &ProviderError{Provider: ProviderCardRail, StatusCode: 400, Kind: kind}
		assert.Equal(t, want, classifier.Classify(ProviderCardRail, err), kind)
	}
}

func TestClassifyLedgerRailCodes(t *testing.T) {
	classifier := NewClassifier()

	cases := map[string]Category{
		"tx_not_found":     CategoryNotFound,
		"invalid_hash":     CategoryValidation,
		"mirror_lagging":   CategoryServerError,
		"node_unavailable": CategoryServerError,
	}
	for code, want := range cases {
		err := &ProviderError{Provider: ProviderLedgerRail, Code: code}
		assert.Equal(t, want, classifier.Classify(ProviderLedgerRail, err), code)
	}

	err := &ProviderError{Provider: ProviderLedgerRail, Message: "request timeout while querying mirror"}
	assert.Equal(t, CategoryTimeout, classifier.Classify(ProviderLedgerRail, err))
}

func TestClassifyByStatusFallback(t *testing.T) {
	classifier := NewClassifier()

	cases := map[int]Category{
		401: CategoryAuth,
		404: CategoryNotFound,
		408: CategoryTimeout,
		422: CategoryValidation,
		429: CategoryRateLimit,
		500: CategoryServerError,
		503: CategoryServerError,
		0:   CategoryNetwork,
	}
	for status, want := range cases {
		err := &ProviderError{Provider: ProviderFxRates, StatusCode: status}
		assert.Equal(t, want, classifier.Classify(ProviderFxRates, err), status)
	}
}

func TestClassifyAcctSyncTokenExpiry(t *testing.T) {
	classifier := NewClassifier()

	err := &ProviderError{Provider: ProviderAcctSync, StatusCode: 400, Message: "OAuth token expired"}
	assert.Equal(t, CategoryAuth, classifier.Classify(ProviderAcctSync, err))
}

func TestClassifyContextDeadline(t *testing.T) {
	classifier := NewClassifier()
	assert.Equal(t, CategoryTimeout, classifier.Classify(ProviderCardRail, context.DeadlineExceeded))
}

func TestClassifyUnknown(t *testing.T) {
	classifier := NewClassifier()
	assert.Equal(t, CategoryUnknown, classifier.Classify(ProviderCardRail, errors.New("boom")))
}

func TestHandlerHandleFailureFeedsBreaker(t *testing.T) {
	registry, _ := newTestRegistry(t)
	handler := NewHandler(NewClassifier(), NewRetryPolicy(), registry)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision := handler.HandleFailure(ctx, ProviderCardRail, "tenant-1",
			&ProviderError{Provider: ProviderCardRail}, i)
		assert.Equal(t, CategoryNetwork, decision.Category)
	}

	state, _ := registry.State(ProviderCardRail, "tenant-1")
	assert.Equal(t, BreakerOpen, state)

	err := handler.Do(ctx, ProviderCardRail, "tenant-1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
