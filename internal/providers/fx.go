package providers

import (
	"github.com/smallbiznis/railpost/internal/config"
	"github.com/smallbiznis/railpost/internal/exporter"
	"github.com/smallbiznis/railpost/internal/providers/acctsync"
	"github.com/smallbiznis/railpost/internal/providers/cardrail"
	"github.com/smallbiznis/railpost/internal/providers/ledgerrail"
	"github.com/smallbiznis/railpost/internal/resilience"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(newCardRail),
	fx.Provide(newLedgerRail),
	fx.Provide(newAcctSync),
	fx.Provide(func(c *acctsync.Client) exporter.Pusher { return c }),
)

func newCardRail(cfg config.Config, handler *resilience.Handler) *cardrail.Client {
	return cardrail.NewClient(cfg.CardRailBaseURL, cfg.CardRailAPIKey, cfg.VerifyCallBudget, handler)
}

func newLedgerRail(cfg config.Config, handler *resilience.Handler) *ledgerrail.Client {
	return ledgerrail.NewClient(cfg.LedgerRailBaseURL, cfg.VerifyCallBudget, handler)
}

func newAcctSync(cfg config.Config, handler *resilience.Handler) *acctsync.Client {
	return acctsync.NewClient(cfg.AcctSyncBaseURL, cfg.AcctSyncToken, cfg.WebhookCallTimeout, handler)
}
