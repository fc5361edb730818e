package acctsync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/resilience"
)

// JournalLine mirrors the accounting provider's journal line shape.
type JournalLine struct {
	AccountCode string          `json:"account_code"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
}

// JournalPush is one posted entry set exported to the accounting provider.
type JournalPush struct {
	ExternalID    string        `json:"external_id"`
	PostedAt      time.Time     `json:"posted_at"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Lines         []JournalLine `json:"lines"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Client exports posted journal entries to the external accounting system.
// Pushes are idempotent on ExternalID, so redelivery after a timeout is safe.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	handler *resilience.Handler
}

func NewClient(baseURL, token string, timeout time.Duration, handler *resilience.Handler) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
		handler: handler,
	}
}

func (c *Client) PushJournal(ctx context.Context, scope string, push JournalPush) error {
	return c.handler.Do(ctx, resilience.ProviderAcctSync, scope, func(ctx context.Context) error {
		return c.pushJournal(ctx, push)
	})
}

func (c *Client) pushJournal(ctx context.Context, push JournalPush) error {
	if c.token == "" {
		return &resilience.ProviderError{
			Provider:   resilience.ProviderAcctSync,
			StatusCode: http.StatusUnauthorized,
			Message:    "token expired or not configured",
		}
	}

	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/journals", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", push.ExternalID)

	resp, err := c.client.Do(req)
	if err != nil {
		return &resilience.ProviderError{
			Provider: resilience.ProviderAcctSync,
			Message:  "journal push failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = "journal push rejected"
		}
		return &resilience.ProviderError{
			Provider:   resilience.ProviderAcctSync,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
	return nil
}
