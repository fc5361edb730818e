package ledgerrail

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/resilience"
)

// Transaction is the mirror's view of one on-ledger transfer.
type Transaction struct {
	Hash          string          `json:"hash"`
	Amount        decimal.Decimal `json:"amount"`
	AssetCode     string          `json:"asset_code"`
	Memo          string          `json:"memo"`
	Confirmations int             `json:"confirmations"`
	Finalized     bool            `json:"finalized"`
}

// HealthStatus reports mirror reachability and lag, for operational tooling.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	LagBlocks int           `json:"lag_blocks"`
	Latency   time.Duration `json:"latency"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client queries the ledger-rail mirror service.
type Client struct {
	baseURL string
	client  *http.Client
	handler *resilience.Handler
}

func NewClient(baseURL string, timeout time.Duration, handler *resilience.Handler) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		handler: handler,
	}
}

// GetTransaction fetches a transaction by hash, breaker-guarded per scope.
func (c *Client) GetTransaction(ctx context.Context, scope, txHash string) (*Transaction, error) {
	var tx *Transaction
	err := c.handler.Do(ctx, resilience.ProviderLedgerRail, scope, func(ctx context.Context) error {
		var err error
		tx, err = c.getTransaction(ctx, txHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) getTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transactions/"+txHash, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &resilience.ProviderError{
			Provider: resilience.ProviderLedgerRail,
			Message:  "mirror request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = "transaction lookup failed"
		}
		return nil, &resilience.ProviderError{
			Provider:   resilience.ProviderLedgerRail,
			StatusCode: resp.StatusCode,
			Code:       envelope.Code,
			Message:    message,
		}
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, &resilience.ProviderError{
			Provider: resilience.ProviderLedgerRail,
			Message:  "malformed transaction response",
			Err:      err,
		}
	}
	if tx.Hash == "" {
		return nil, &resilience.ProviderError{
			Provider:   resilience.ProviderLedgerRail,
			StatusCode: http.StatusNotFound,
			Code:       "tx_not_found",
			Message:    "transaction not found",
		}
	}
	return &tx, nil
}

// Health runs a lightweight synchronous reachability probe. It bypasses the
// breaker on purpose: operators need an answer even while the circuit is
// open.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return HealthStatus{}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return HealthStatus{Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	status := HealthStatus{Latency: time.Since(start)}
	if resp.StatusCode != http.StatusOK {
		return status
	}
	var body struct {
		LagBlocks int `json:"lag_blocks"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	status.Healthy = true
	status.LagBlocks = body.LagBlocks
	return status
}
