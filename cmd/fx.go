package cmd

import (
	"go.uber.org/fx"

	"github.com/webitel/connpool/config"
	"github.com/webitel/connpool/internal/admin"
)

// NewApp wires the full pool service: logger, database factory, prober,
// metrics sink and Controller, plus the admin HTTP module. extra lets
// callers splice in additional options (fx.Populate, test overrides)
// without NewApp growing a second signature.
func NewApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvidePGXFactory,
			ProvideProber,
			ProvideMetricsSink,
			ProvideController,
			ProvideAdminPool,
		),
		fx.Invoke(registerControllerLifecycle),
		admin.Module,
	}
	opts = append(opts, extra...)
	return fx.New(opts...)
}
