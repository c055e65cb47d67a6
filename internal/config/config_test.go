package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LND.Port != 10009 {
		t.Fatalf("lnd port = %d, want default 10009", cfg.LND.Port)
	}
	if cfg.Actions.Days != 30 {
		t.Fatalf("days = %d, want default 30", cfg.Actions.Days)
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
lnd:
  host: node.example
  port: 10010
actions:
  days: 14
  fee_decrease_wait_days: 2
  max_fee_rate_ppm: 1800
advisor:
  refresh_delay_sec: 5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LND.Address() != "node.example:10010" {
		t.Fatalf("address = %q", cfg.LND.Address())
	}
	if cfg.Actions.Days != 14 || cfg.Actions.MaxFeeRatePpm != 1800 {
		t.Fatalf("actions config not overridden: %+v", cfg.Actions)
	}
	// Untouched knobs keep their defaults.
	if cfg.Actions.MinChannelForwards != 20 {
		t.Fatalf("min forwards = %d, want 20", cfg.Actions.MinChannelForwards)
	}
	if cfg.Advisor.RefreshDelaySec != 5 {
		t.Fatalf("refresh delay = %d, want 5", cfg.Advisor.RefreshDelaySec)
	}
}

func TestLoadRejectsInvalidActionsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
actions:
  min_fee_increase_distance: 0.04
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("LND_HOST", "env.example")
	t.Setenv("LND_PORT", "10011")
	t.Setenv("LNADVISOR_PG_DSN", "postgres://env")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LND.Address() != "env.example:10011" {
		t.Fatalf("address = %q", cfg.LND.Address())
	}
	if cfg.Postgres.DSN != "postgres://env" {
		t.Fatalf("dsn = %q", cfg.Postgres.DSN)
	}
}
