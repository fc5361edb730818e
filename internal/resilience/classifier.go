package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// Classifier maps provider-specific error shapes onto the shared Category
// taxonomy. Mapping rules differ per provider (error type strings, RPC
// codes, HTTP status) but the output taxonomy is common.
type Classifier struct {
	rules map[string]func(*ProviderError) Category
}

func NewClassifier() *Classifier {
	return &Classifier{
		rules: map[string]func(*ProviderError) Category{
			ProviderCardRail:   classifyCardRail,
			ProviderLedgerRail: classifyLedgerRail,
			ProviderAcctSync:   classifyAcctSync,
			ProviderFxRates:    classifyByStatus,
		},
	}
}

func (c *Classifier) Classify(provider string, rawErr error) Category {
	if rawErr == nil {
		return CategoryUnknown
	}

	if errors.Is(rawErr, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var provErr *ProviderError
	if errors.As(rawErr, &provErr) {
		if rule, ok := c.rules[provider]; ok {
			return rule(provErr)
		}
		return classifyByStatus(provErr)
	}

	var netErr net.Error
	if errors.As(rawErr, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	var urlErr *url.Error
	if errors.As(rawErr, &urlErr) {
		return CategoryNetwork
	}

	return CategoryUnknown
}

// classifyCardRail keys off the processor's error envelope type field.
func classifyCardRail(e *ProviderError) Category {
	switch e.Kind {
	case "authentication_error":
		return CategoryAuth
	case "invalid_request_error":
		return CategoryValidation
	case "rate_limit_error":
		return CategoryRateLimit
	case "api_error":
		return CategoryServerError
	}
	return classifyByStatus(e)
}

// classifyLedgerRail keys off the mirror service's RPC-style codes.
func classifyLedgerRail(e *ProviderError) Category {
	switch e.Code {
	case "tx_not_found":
		return CategoryNotFound
	case "invalid_hash", "invalid_params":
		return CategoryValidation
	case "mirror_lagging", "node_unavailable":
		return CategoryServerError
	}
	if strings.Contains(strings.ToLower(e.Message), "timeout") {
		return CategoryTimeout
	}
	return classifyByStatus(e)
}

// classifyAcctSync keys primarily off HTTP status; expired tokens come back
// as a message rather than a 401 from some plan tiers.
func classifyAcctSync(e *ProviderError) Category {
	if strings.Contains(strings.ToLower(e.Message), "token expired") {
		return CategoryAuth
	}
	return classifyByStatus(e)
}

func classifyByStatus(e *ProviderError) Category {
	switch {
	case e.StatusCode == 0:
		return CategoryNetwork
	case e.StatusCode == 401 || e.StatusCode == 403:
		return CategoryAuth
	case e.StatusCode == 404:
		return CategoryNotFound
	case e.StatusCode == 408:
		return CategoryTimeout
	case e.StatusCode == 429:
		return CategoryRateLimit
	case e.StatusCode == 400 || e.StatusCode == 422:
		return CategoryValidation
	case e.StatusCode >= 500:
		return CategoryServerError
	default:
		return CategoryUnknown
	}
}
