package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DBPath != "plugwatch.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Listen != ":8090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Scheduler.CookieHorizon != 24*time.Hour {
		t.Errorf("cookie horizon = %s", cfg.Scheduler.CookieHorizon)
	}
	if cfg.Refresh.Concurrency != 2 {
		t.Errorf("concurrency = %d", cfg.Refresh.Concurrency)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugwatch.yaml")
	data := `
db_path: /var/lib/plugwatch/data.db
listen: ":9000"
session:
  login_url: https://placetoplug.com/en/login
refresh:
  concurrency: 4
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DBPath != "/var/lib/plugwatch/data.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Session.LoginURL != "https://placetoplug.com/en/login" {
		t.Errorf("login url = %q", cfg.Session.LoginURL)
	}
	if cfg.Refresh.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Refresh.Concurrency)
	}
	// Unset values still receive defaults.
	if cfg.Scheduler.JobPollInterval != 15*time.Second {
		t.Errorf("poll interval = %s", cfg.Scheduler.JobPollInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PLUGWATCH_DB", "/tmp/override.db")
	t.Setenv("PLUGWATCH_LISTEN", ":7777")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Listen != ":7777" {
		t.Errorf("listen = %q", cfg.Listen)
	}
}
