package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Workflow.StatusPollInterval != 5*time.Second {
		t.Errorf("StatusPollInterval = %v, want 5s", cfg.Workflow.StatusPollInterval)
	}
	if cfg.Workflow.DetectMaxAttempts != 24 {
		t.Errorf("DetectMaxAttempts = %d, want 24", cfg.Workflow.DetectMaxAttempts)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Server.Port)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
bridge:
  url: https://bridge.example.com
  offline: false
workflow:
  status_poll_interval: 2s
  detect_max_attempts: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Bridge.URL != "https://bridge.example.com" {
		t.Errorf("Bridge.URL = %q", cfg.Bridge.URL)
	}
	if cfg.Workflow.StatusPollInterval != 2*time.Second {
		t.Errorf("StatusPollInterval = %v, want 2s", cfg.Workflow.StatusPollInterval)
	}
	if cfg.Workflow.DetectMaxAttempts != 10 {
		t.Errorf("DetectMaxAttempts = %d, want 10", cfg.Workflow.DetectMaxAttempts)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero poll interval", "workflow:\n  status_poll_interval: 0s\n"},
		{"negative attempts", "workflow:\n  detect_max_attempts: -1\n"},
		{"missing bridge url", "bridge:\n  url: \"\"\n  offline: false\n"},
	}
	for _, tt := range tests {
		path := writeConfig(t, tt.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load succeeded, want error", tt.name)
		}
	}
}

func TestLoadOfflineWithoutURL(t *testing.T) {
	path := writeConfig(t, "bridge:\n  url: \"\"\n  offline: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Bridge.Offline {
		t.Error("Offline not set")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
