package rates

import (
	"github.com/smallbiznis/railpost/internal/config"
	"github.com/smallbiznis/railpost/internal/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rates",
	fx.Provide(NewProvider),
)

func NewProvider(cfg config.Config, log *zap.Logger, handler *resilience.Handler) Provider {
	sources := make([]Provider, 0, 2)
	if cfg.RatesPrimaryURL != "" {
		sources = append(sources, NewHTTPSource("primary", cfg.RatesPrimaryURL, cfg.WebhookCallTimeout, handler))
	}
	if cfg.RatesFallbackURL != "" {
		sources = append(sources, NewHTTPSource("fallback", cfg.RatesFallbackURL, cfg.WebhookCallTimeout, handler))
	}
	return NewChain(log, sources...)
}
