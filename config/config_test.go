package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithoutAFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaximumPoolSize != 10 {
		t.Fatalf("expected default maximum_pool_size of 10, got %d", cfg.Pool.MaximumPoolSize)
	}
	if cfg.Pool.ConnectionTimeout != 30*time.Second {
		t.Fatalf("expected default connection_timeout of 30s, got %v", cfg.Pool.ConnectionTimeout)
	}
	if cfg.Admin.ListenAddr != ":8090" {
		t.Fatalf("expected default admin listen_addr, got %q", cfg.Admin.ListenAddr)
	}
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	yaml := []byte(`
pool:
  maximum_pool_size: 25
  minimum_idle: 5
database:
  dsn: "postgres://example/db"
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaximumPoolSize != 25 {
		t.Fatalf("expected maximum_pool_size 25, got %d", cfg.Pool.MaximumPoolSize)
	}
	if cfg.Pool.MinimumIdle != 5 {
		t.Fatalf("expected minimum_idle 5, got %d", cfg.Pool.MinimumIdle)
	}
	if cfg.Database.DSN != "postgres://example/db" {
		t.Fatalf("expected dsn override, got %q", cfg.Database.DSN)
	}
}

func TestControllerOptionsMapping(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.Pool.ControllerOptions()
	if opts.MaximumPoolSize != cfg.Pool.MaximumPoolSize {
		t.Fatal("MaximumPoolSize did not round-trip into controller.Options")
	}
	if opts.BreakerTripThreshold != cfg.Pool.BreakerTripThreshold {
		t.Fatal("BreakerTripThreshold did not round-trip into controller.Options")
	}
}
