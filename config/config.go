// Package config loads the pool service's configuration via viper: a YAML
// file named by the caller (or config.yaml found in the working directory
// or /etc/connpool), overridable by CONNPOOL_-prefixed environment
// variables, with fsnotify-driven hot reload for the subset of fields
// safe to change at runtime.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/webitel/connpool/internal/pool/controller"
)

// Config is the full on-disk/env configuration surface. Field names match
// spec §6 (HikariConfig) verbatim; JSON/YAML tags follow the teacher's
// lower_snake_case convention.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Log      LogConfig      `mapstructure:"log"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig names the target the ConnectionFactory dials.
type DatabaseConfig struct {
	DSN               string `mapstructure:"dsn"`
	ConnectionTestSQL string `mapstructure:"connection_test_query"`
	ConnectionInitSQL string `mapstructure:"connection_init_sql"`
}

// PoolConfig mirrors spec §6's HikariConfig-equivalent fields.
type PoolConfig struct {
	MaximumPoolSize         int           `mapstructure:"maximum_pool_size"`
	MinimumIdle             int           `mapstructure:"minimum_idle"`
	MinimumIdleExplicitZero bool          `mapstructure:"minimum_idle_explicit_zero"`
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime             time.Duration `mapstructure:"max_lifetime"`
	ValidationTimeout       time.Duration `mapstructure:"validation_timeout"`
	LeakDetectionThreshold  time.Duration `mapstructure:"leak_detection_threshold"`
	AliveBypassWindow       time.Duration `mapstructure:"alive_bypass_window"`
	HousekeepingPeriod      time.Duration `mapstructure:"housekeeping_period"`
	CreationBackoffCap      time.Duration `mapstructure:"creation_backoff_cap"`
	BreakerTripThreshold    uint32        `mapstructure:"breaker_trip_threshold"`
	BreakerCooldown         time.Duration `mapstructure:"breaker_cooldown"`
	AllowPoolSuspension     bool          `mapstructure:"allow_pool_suspension"`
	RegisterMBeans          bool          `mapstructure:"register_mbeans"`
}

// LogConfig drives the zap/zapslog/lumberjack logging stack.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AdminConfig drives the chi-based management HTTP surface (the JMX/MBeans
// analogue from spec §9's Open Questions).
type AdminConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	BearerToken string `mapstructure:"bearer_token"`
}

// MetricsConfig toggles the otel/metric-backed MetricsSink.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ControllerOptions translates the on-disk pool config into
// controller.Options, the one place the two field sets are kept in sync.
func (p PoolConfig) ControllerOptions() controller.Options {
	return controller.Options{
		MaximumPoolSize:         p.MaximumPoolSize,
		MinimumIdle:             p.MinimumIdle,
		MinimumIdleExplicitZero: p.MinimumIdleExplicitZero,
		ConnectionTimeout:       p.ConnectionTimeout,
		IdleTimeout:             p.IdleTimeout,
		MaxLifetime:             p.MaxLifetime,
		ValidationTimeout:       p.ValidationTimeout,
		LeakDetectionThreshold:  p.LeakDetectionThreshold,
		AliveBypassWindow:       p.AliveBypassWindow,
		HousekeepingPeriod:      p.HousekeepingPeriod,
		CreationBackoffCap:      p.CreationBackoffCap,
		BreakerTripThreshold:    p.BreakerTripThreshold,
		AllowPoolSuspension:     p.AllowPoolSuspension,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.maximum_pool_size", 10)
	v.SetDefault("pool.connection_timeout", 30*time.Second)
	v.SetDefault("pool.idle_timeout", 10*time.Minute)
	v.SetDefault("pool.max_lifetime", 30*time.Minute)
	v.SetDefault("pool.validation_timeout", 5*time.Second)
	v.SetDefault("pool.alive_bypass_window", 500*time.Millisecond)
	v.SetDefault("pool.housekeeping_period", 30*time.Second)
	v.SetDefault("pool.creation_backoff_cap", 10*time.Second)
	v.SetDefault("pool.breaker_trip_threshold", 5)
	v.SetDefault("pool.breaker_cooldown", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("admin.listen_addr", ":8090")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.service_name", "connpool")
}

// Load reads configFile (or discovers config.yaml in the working
// directory and /etc/connpool) and layers CONNPOOL_-prefixed environment
// variables on top. An empty configFile, or one that does not exist, is
// not an error: defaults plus environment overrides are a valid
// configuration.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONNPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/connpool")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch wires fsnotify-driven hot reload onto configFile (or the
// discovered config.yaml). onChange receives the freshly parsed Config on
// every write; only pool.idle_timeout, pool.max_lifetime and
// pool.maximum_pool_size-shrinking changes are meaningful to apply live,
// the caller decides what to do with the rest.
func Watch(configFile string, onChange func(*Config)) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CONNPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/connpool")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}
