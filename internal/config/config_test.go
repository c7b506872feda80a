package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"APP_ADMIN_USER", "APP_DATA_PATH", "APP_POLL_INTERVAL", "APP_WORKERS",
		"APP_MAX_DELIVERIES", "APP_REDELIVERY_DELAY", "APP_LOG_LEVEL", "APP_LISTEN_ADDR",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.AdminUser != "admin" {
		t.Errorf("AdminUser: got %q, want admin", cfg.AdminUser)
	}
	if cfg.DataPath != "/opt/data" {
		t.Errorf("DataPath: got %q, want /opt/data", cfg.DataPath)
	}
	if cfg.PollInterval != 30*time.Minute {
		t.Errorf("PollInterval: got %v, want 30m", cfg.PollInterval)
	}
	if cfg.Workers != 12 {
		t.Errorf("Workers: got %d, want 12", cfg.Workers)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr: got %q, want :8080", cfg.ListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_DATA_PATH", "/srv/exports")
	t.Setenv("APP_POLL_INTERVAL", "5m")
	t.Setenv("APP_WORKERS", "4")
	t.Setenv("APP_LOG_LEVEL", "trace")

	cfg := Load()
	if cfg.DataPath != "/srv/exports" {
		t.Errorf("DataPath: got %q", cfg.DataPath)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval: got %v", cfg.PollInterval)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers: got %d", cfg.Workers)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("APP_WORKERS", "-3")
	t.Setenv("APP_POLL_INTERVAL", "soon")
	t.Setenv("APP_MAX_DELIVERIES", "many")

	cfg := Load()
	if cfg.Workers != 12 {
		t.Errorf("Workers: got %d, want default 12", cfg.Workers)
	}
	if cfg.PollInterval != 30*time.Minute {
		t.Errorf("PollInterval: got %v, want default", cfg.PollInterval)
	}
	if cfg.MaxDeliveries != 5 {
		t.Errorf("MaxDeliveries: got %d, want default 5", cfg.MaxDeliveries)
	}
}
