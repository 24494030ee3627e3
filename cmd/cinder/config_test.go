package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadServeConfig_FlagDefaultsOnly(t *testing.T) {
	cmd := NewServeCmd()

	cfg, err := loadServeConfig(cmd.Flags(), "")
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}

	if cfg.PluginsDir != "plugins" {
		t.Errorf("PluginsDir = %q, want %q", cfg.PluginsDir, "plugins")
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q, want default", cfg.MetricsAddr)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if !cfg.Watch {
		t.Error("Watch = false, want true")
	}
	if cfg.Grants != nil {
		t.Errorf("Grants = %v, want nil", cfg.Grants)
	}
}

func TestLoadServeConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
plugins-dir: /srv/cinder/plugins
log-format: text
watch: false
grants:
  economy:
    - cinder.plugins.manage
  shop:
    - economy.balance.read
    - economy.balance.write
`)

	cmd := NewServeCmd()
	cfg, err := loadServeConfig(cmd.Flags(), path)
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}

	if cfg.PluginsDir != "/srv/cinder/plugins" {
		t.Errorf("PluginsDir = %q, want file value", cfg.PluginsDir)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
	if cfg.Watch {
		t.Error("Watch = true, want false from file")
	}
	// Keys the file omits keep their flag defaults.
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default", cfg.LogLevel)
	}

	if len(cfg.Grants) != 2 {
		t.Fatalf("Grants has %d entries, want 2", len(cfg.Grants))
	}
	if got := cfg.Grants["economy"]; len(got) != 1 || got[0] != "cinder.plugins.manage" {
		t.Errorf("Grants[economy] = %v", got)
	}
	if got := cfg.Grants["shop"]; len(got) != 2 {
		t.Errorf("Grants[shop] = %v", got)
	}
}

func TestLoadServeConfig_ExplicitFlagBeatsFile(t *testing.T) {
	path := writeConfigFile(t, "log-format: text\nplugins-dir: /from/file\n")

	cmd := NewServeCmd()
	cmd.SetArgs([]string{"--log-format=json", "--help"})
	cmd.SetOut(new(strings.Builder))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	cfg, err := loadServeConfig(cmd.Flags(), path)
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}

	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, explicitly set flag should win", cfg.LogFormat)
	}
	// A flag left at its default does not clobber the file.
	if cfg.PluginsDir != "/from/file" {
		t.Errorf("PluginsDir = %q, file should win over flag default", cfg.PluginsDir)
	}
}

func TestLoadServeConfig_MissingFile(t *testing.T) {
	cmd := NewServeCmd()

	_, err := loadServeConfig(cmd.Flags(), filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config file") {
		t.Errorf("Error should mention the config file, got: %v", err)
	}
}

func TestLoadServeConfig_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "plugins-dir: [unclosed\n")

	cmd := NewServeCmd()
	_, err := loadServeConfig(cmd.Flags(), path)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}
