package main

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// serveConfig holds configuration for the serve command. Keys match
// flag names, so the same names work in the YAML config file.
type serveConfig struct {
	PluginsDir  string              `koanf:"plugins-dir"`
	DataDir     string              `koanf:"data-dir"`
	MetricsAddr string              `koanf:"metrics-addr"`
	LogFormat   string              `koanf:"log-format"`
	LogLevel    string              `koanf:"log-level"`
	Watch       bool                `koanf:"watch"`
	Grants      map[string][]string `koanf:"grants"`
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	if cfg.PluginsDir == "" {
		return fmt.Errorf("plugins-dir is required")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}

// loadServeConfig merges the YAML config file (when path is non-empty)
// with the command's flags. Explicitly set flags beat file values; flag
// defaults fill whatever the file left out. Grants have no flag and
// come from the file alone.
func loadServeConfig(flags *pflag.FlagSet, path string) (*serveConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("merge command-line flags: %w", err)
	}

	var cfg serveConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return &cfg, nil
}
