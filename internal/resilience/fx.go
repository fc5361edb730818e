package resilience

import (
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	obsmetrics "github.com/smallbiznis/railpost/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("resilience",
	fx.Provide(NewClassifier),
	fx.Provide(NewRetryPolicy),
	fx.Provide(provideBreakers),
	fx.Provide(NewHandler),
)

type breakerParams struct {
	fx.In

	Cfg     config.Config
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func provideBreakers(p breakerParams) Breakers {
	return NewBreakerRegistry(5, p.Cfg.BreakerCooldown, p.Clock, p.Log, p.Metrics)
}
