package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sybl.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app_name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "test" {
		t.Fatalf("app_name = %q", cfg.AppName)
	}
	if cfg.Coordinator.Address == "" {
		t.Fatalf("default coordinator address missing")
	}
	if cfg.Session.HeartbeatTimeout <= cfg.Session.HeartbeatInterval {
		t.Fatalf("default heartbeat timers inconsistent: %v <= %v",
			cfg.Session.HeartbeatTimeout, cfg.Session.HeartbeatInterval)
	}
	if cfg.Dispatch.Workers <= 0 || cfg.Dispatch.QueueSize <= 0 {
		t.Fatalf("dispatch defaults missing: %+v", cfg.Dispatch)
	}
	if len(cfg.Reconnect.PermanentReasons) == 0 {
		t.Fatalf("default permanent reasons missing")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
coordinator:
  address: quic://coord.example.com:9000
model:
  email: dev@example.com
  name: house-prices
session:
  heartbeat_interval: 2s
  heartbeat_timeout: 9s
reconnect:
  backoff_initial: 1s
  backoff_max: 10s
dispatch:
  workers: 2
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Coordinator.Address != "quic://coord.example.com:9000" {
		t.Fatalf("address = %q", cfg.Coordinator.Address)
	}
	if cfg.Model.Email != "dev@example.com" || cfg.Model.Name != "house-prices" {
		t.Fatalf("model = %+v", cfg.Model)
	}
	if cfg.Session.HeartbeatInterval != 2*time.Second || cfg.Session.HeartbeatTimeout != 9*time.Second {
		t.Fatalf("session timers = %+v", cfg.Session)
	}
	if cfg.Reconnect.BackoffInitial != time.Second || cfg.Reconnect.BackoffMax != 10*time.Second {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Dispatch.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Dispatch.Workers)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYBL_LOG_LEVEL", "warn")
	cfg, err := Load(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env override lost: %q", cfg.Log.Level)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	if _, err := Load(writeConfig(t, "log:\n  level: loud\n")); err == nil {
		t.Fatalf("expected error for bad log level")
	}
	if _, err := Load(writeConfig(t, "coordinator:\n  address: \"\"\n")); err == nil {
		t.Fatalf("expected error for empty address")
	}
	if _, err := Load(writeConfig(t, "session:\n  heartbeat_interval: 10s\n  heartbeat_timeout: 5s\n")); err == nil {
		t.Fatalf("expected error for heartbeat timeout below interval")
	}
}
