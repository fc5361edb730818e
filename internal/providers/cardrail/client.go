package cardrail

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/resilience"
)

// Charge is the card processor's view of one settlement.
type Charge struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Captured bool            `json:"captured"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client queries the card processor, used by manual verification when a
// webhook was missed or disputed.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	handler *resilience.Handler
}

func NewClient(baseURL, apiKey string, timeout time.Duration, handler *resilience.Handler) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
		handler: handler,
	}
}

// GetCharge fetches the charge behind a provider reference. The call is
// breaker-guarded per org scope; retries belong to the caller.
func (c *Client) GetCharge(ctx context.Context, scope, chargeID string) (*Charge, error) {
	var charge *Charge
	err := c.handler.Do(ctx, resilience.ProviderCardRail, scope, func(ctx context.Context) error {
		var err error
		charge, err = c.getCharge(ctx, chargeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

func (c *Client) getCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if c.apiKey == "" {
		return nil, &resilience.ProviderError{
			Provider:   resilience.ProviderCardRail,
			StatusCode: http.StatusUnauthorized,
			Kind:       "authentication_error",
			Message:    "api key not configured",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/charges/"+chargeID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &resilience.ProviderError{
			Provider: resilience.ProviderCardRail,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		message := strings.TrimSpace(envelope.Error.Message)
		if message == "" {
			message = "charge lookup failed"
		}
		return nil, &resilience.ProviderError{
			Provider:   resilience.ProviderCardRail,
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Kind:       envelope.Error.Type,
			Message:    message,
		}
	}

	var charge Charge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, &resilience.ProviderError{
			Provider: resilience.ProviderCardRail,
			Message:  "malformed charge response",
			Err:      err,
		}
	}
	if charge.ID == "" {
		return nil, &resilience.ProviderError{
			Provider:   resilience.ProviderCardRail,
			StatusCode: http.StatusNotFound,
			Kind:       "invalid_request_error",
			Code:       "resource_missing",
			Message:    "charge not found",
		}
	}
	return &charge, nil
}
