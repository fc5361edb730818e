package paymentevent

import (
	"github.com/smallbiznis/railpost/internal/paymentevent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentevent",
	fx.Provide(repository.Provide),
)
