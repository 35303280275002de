package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/webitel/connpool/config"
	"github.com/webitel/connpool/internal/pool/controller"
)

const (
	ServiceName      = "connpool"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Standalone connection pool service",
		Commands: []*cli.Command{
			serverCmd(),
			dashboardCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the pool service and its admin HTTP surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			configFile := c.String("config_file")
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			var ctrl *controller.Controller
			app := NewApp(cfg, fx.Populate(&ctrl))

			if err := app.Start(c.Context); err != nil {
				return err
			}

			watchForHotReload(configFile, cfg, ctrl)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

// watchForHotReload wires fsnotify-driven config reload: a shrinking
// max_lifetime is applied immediately as a soft evict of the whole pool;
// everything else takes effect on the next restart. A missing config
// file (env/defaults-only runs) just means reload never fires.
func watchForHotReload(configFile string, cfg *config.Config, ctrl *controller.Controller) {
	current := cfg.Pool.MaxLifetime
	err := config.Watch(configFile, func(next *config.Config) {
		if next.Pool.MaxLifetime > 0 && next.Pool.MaxLifetime < current {
			ctrl.SoftEvictConnections()
		}
		current = next.Pool.MaxLifetime
	})
	if err != nil {
		slog.Warn("CONFIG_HOT_RELOAD_DISABLED", slog.Any("error", err))
	}
}
