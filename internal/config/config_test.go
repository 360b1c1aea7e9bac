package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Experience != "dream_cafe" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.FlexibleTimeout() != 15*time.Second {
		t.Fatalf("flexible_timeout = %v", cfg.FlexibleTimeout())
	}
}

func TestLoadFileOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen_addr: ":9090"
experience: night_market
world_file: content/market.json
templates_file: content/templates.json
spawn_location: market
spawn_area: gate
nats_url: nats://127.0.0.1:4222
flexible_timeout_sec: 5
backup_retain: -3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.Experience != "night_market" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.FlexibleTimeout() != 5*time.Second {
		t.Fatalf("flexible_timeout = %v", cfg.FlexibleTimeout())
	}
	// Negative retention normalizes to keep-everything.
	if cfg.BackupRetain != 0 {
		t.Fatalf("backup_retain = %d", cfg.BackupRetain)
	}
	// Untouched fields keep defaults.
	if cfg.SubjectPrefix != "world" {
		t.Fatalf("subject_prefix = %q", cfg.SubjectPrefix)
	}
}

func TestValidateRejectsBlankExperience(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("experience: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "experience") {
		t.Fatalf("err = %v", err)
	}
}
