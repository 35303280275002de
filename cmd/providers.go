package cmd

import (
	"context"
	"log/slog"
	"os"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/webitel/connpool/config"
	"github.com/webitel/connpool/internal/admin"
	"github.com/webitel/connpool/internal/pool/controller"
	"github.com/webitel/connpool/internal/pool/driver"
	"github.com/webitel/connpool/internal/pool/metrics"
	"github.com/webitel/connpool/internal/pool/prober"
)

// ProvideLogger builds the application's *slog.Logger from a zap core:
// JSON-encoded, written to stderr and, when cfg.Log.File is set,
// tee'd into a lumberjack-rotated file.
func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	level := zap.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Log.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	writer := zapcore.AddSync(os.Stderr)
	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		writer = zapcore.NewMultiWriteSyncer(writer, zapcore.AddSync(rotated))
	}

	core := zapcore.NewCore(encoder, writer, level)
	handler := zapslog.NewHandler(core)
	return slog.New(handler), nil
}

// ProvidePGXFactory builds the ConnectionFactory wired against
// cfg.Database.DSN, wrapped in a circuit breaker per cfg.Pool's breaker
// settings.
func ProvidePGXFactory(cfg *config.Config) driver.ConnectionFactory {
	inner := driver.NewPGXFactory(cfg.Database.DSN)
	return driver.NewBreakerFactory(inner, cfg.Pool.BreakerTripThreshold, cfg.Pool.BreakerCooldown)
}

// ProvideProber builds the aliveness Prober from cfg.Pool/cfg.Database.
func ProvideProber(logger *slog.Logger, cfg *config.Config) *prober.Prober {
	return prober.New(logger, prober.Options{
		ValidationTimeout: cfg.Pool.ValidationTimeout,
		ConnectionTestSQL: cfg.Database.ConnectionTestSQL,
		AliveBypassWindow: cfg.Pool.AliveBypassWindow,
	})
}

// ProvideMetricsSink builds the otel/metric-backed Sink when enabled, or
// the no-op default otherwise.
func ProvideMetricsSink(cfg *config.Config) (metrics.Sink, error) {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}, nil
	}
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter(cfg.Metrics.ServiceName)
	sink, err := metrics.NewOTel(meter)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// ProvideController wires the bag/factory/prober/sink into a running
// Controller, starting its executors and housekeeper before returning.
func ProvideController(factory driver.ConnectionFactory, prb *prober.Prober, sink metrics.Sink, logger *slog.Logger, cfg *config.Config) (*controller.Controller, error) {
	opts := cfg.Pool.ControllerOptions()
	opts.ConnectionTestQuery = cfg.Database.ConnectionTestSQL
	opts.ConnectionInitSQL = cfg.Database.ConnectionInitSQL

	c, err := controller.New(factory, prb, sink, logger, nil, opts)
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// ProvideAdminPool narrows *controller.Controller to admin.Pool for the
// admin HTTP module.
func ProvideAdminPool(c *controller.Controller) admin.Pool { return c }

// registerControllerLifecycle ties the Controller's shutdown into the fx
// app's own: without this, app.Stop would drain the admin server but
// leave the pool's create/close/housekeeper goroutines and every open
// connection behind.
func registerControllerLifecycle(lc fx.Lifecycle, c *controller.Controller) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})
}
