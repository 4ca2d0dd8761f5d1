package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rupor-github/gencfg"
)

func TestLoadConfiguration_NoFile(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() with empty path error = %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}
	if cfg.Version != 1 {
		t.Errorf("Default config version = %d, want 1", cfg.Version)
	}
	if cfg.Render.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Render.PollInterval)
	}
	if cfg.Messaging.SettleDelay != 200*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 200ms", cfg.Messaging.SettleDelay)
	}
	if cfg.Panel.PreviewDelay != 500*time.Millisecond {
		t.Errorf("PreviewDelay = %v, want 500ms", cfg.Panel.PreviewDelay)
	}
	if cfg.Store.Path == "" {
		t.Error("Expected default store path")
	}
}

func TestLoadConfiguration_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `version: 1
store:
  path: ` + filepath.Join(tmpDir, "rules.db") + `
render:
  poll_interval: 250ms
proxy:
  listen: "localhost:9090"
  upstream: "https://example.com"
  upstream_auth: "Bearer xyz"
logging:
  console:
    level: debug
  file:
    level: none
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfiguration(configPath)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if cfg.Render.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Render.PollInterval)
	}
	// not overwritten by file, default stays
	if cfg.Messaging.SettleDelay != 200*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 200ms", cfg.Messaging.SettleDelay)
	}
	if cfg.Proxy.Listen != "localhost:9090" {
		t.Errorf("Listen = %q", cfg.Proxy.Listen)
	}
	if cfg.Proxy.UpstreamAuth != "Bearer xyz" {
		t.Errorf("UpstreamAuth = %q", cfg.Proxy.UpstreamAuth)
	}
	if cfg.Logging.ConsoleLogger.Level != "debug" {
		t.Errorf("Console level = %q, want debug", cfg.Logging.ConsoleLogger.Level)
	}
}

func TestLoadConfiguration_NonExistentFile(t *testing.T) {
	if _, err := LoadConfiguration("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadConfiguration_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "version: 1\nstore:\n  path: x\n  invalid indent\n"},
		{"unknown field", "version: 1\nunknown_field: value\n"},
		{"wrong version", "version: 2\n"},
		{"poll too fast", "version: 1\nrender:\n  poll_interval: 1ms\n"},
		{"bad log level", "version: 1\nlogging:\n  console:\n    level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}
			if _, err := LoadConfiguration(configPath); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadConfiguration_WithOptions(t *testing.T) {
	option := func(opts *gencfg.ProcessingOptions) {}

	cfg, err := LoadConfiguration("", option)
	if err != nil {
		t.Fatalf("LoadConfiguration() with options error = %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}
}

func TestPrepare(t *testing.T) {
	data, err := Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Prepare() returned empty data")
	}
	if _, err = unmarshalConfig(data, &Config{}, true); err != nil {
		t.Errorf("Prepared config is not valid: %v", err)
	}
}

func TestDump_HidesSecrets(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	cfg.Proxy.UpstreamAuth = "Bearer very-secret"

	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	out := string(data)
	if strings.Contains(out, "very-secret") {
		t.Error("Dump() leaked upstream credentials")
	}
	if !strings.Contains(out, SecretStringValue) {
		t.Errorf("Dump() = %s, expected placeholder %q", out, SecretStringValue)
	}
	if !strings.Contains(out, "poll_interval: 500ms") {
		t.Errorf("Dump() = %s, expected readable duration", out)
	}
}
