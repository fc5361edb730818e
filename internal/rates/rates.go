package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railpost/internal/resilience"
	"go.uber.org/zap"
)

// Provider quotes an exchange rate from base to quote currency. Rates price
// ledger-rail settlements into the link currency before variance
// classification.
type Provider interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

type errorResponse struct {
	Message string `json:"message"`
}

// HTTPSource is one rate feed. The breaker scope is the source name, so a
// dead primary does not poison the fallback.
type HTTPSource struct {
	name    string
	baseURL string
	client  *http.Client
	handler *resilience.Handler
}

func NewHTTPSource(name, baseURL string, timeout time.Duration, handler *resilience.Handler) *HTTPSource {
	return &HTTPSource{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		handler: handler,
	}
}

func (s *HTTPSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := s.handler.Do(ctx, resilience.ProviderFxRates, s.name, func(ctx context.Context) error {
		var err error
		rate, err = s.fetch(ctx, base, quote)
		return err
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}

func (s *HTTPSource) fetch(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	url := s.baseURL + "/v1/rates?base=" + strings.ToUpper(base) + "&quote=" + strings.ToUpper(quote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, &resilience.ProviderError{
			Provider: resilience.ProviderFxRates,
			Message:  "rate request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = "rate lookup failed"
		}
		return decimal.Decimal{}, &resilience.ProviderError{
			Provider:   resilience.ProviderFxRates,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}

	var body struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, &resilience.ProviderError{
			Provider: resilience.ProviderFxRates,
			Message:  "malformed rate response",
			Err:      err,
		}
	}
	if !body.Rate.IsPositive() {
		return decimal.Decimal{}, &resilience.ProviderError{
			Provider:   resilience.ProviderFxRates,
			StatusCode: http.StatusUnprocessableEntity,
			Message:    "non-positive rate",
		}
	}
	return body.Rate, nil
}

// Chain tries each source in order and returns the first quote.
type Chain struct {
	log     *zap.Logger
	sources []Provider
}

func NewChain(log *zap.Logger, sources ...Provider) *Chain {
	return &Chain{log: log.Named("rates.chain"), sources: sources}
}

func (c *Chain) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var lastErr error
	for i, source := range c.sources {
		rate, err := source.Rate(ctx, base, quote)
		if err == nil {
			return rate, nil
		}
		lastErr = err
		if i < len(c.sources)-1 {
			c.log.Warn("rate source failed, trying next",
				zap.String("base", base),
				zap.String("quote", quote),
				zap.Error(err),
			)
		}
	}
	if lastErr == nil {
		lastErr = &resilience.ProviderError{
			Provider: resilience.ProviderFxRates,
			Message:  "no rate sources configured",
		}
	}
	return decimal.Decimal{}, lastErr
}
