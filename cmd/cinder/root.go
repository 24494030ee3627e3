package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cindermc/cinder/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Cinder CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cinder",
		Short: "Cinder - an embeddable plugin runtime",
		Long: `Cinder hosts native and Lua plugins in-process, routing typed
events between them and the server through a priority-ordered bus.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/cinder/config.yml)")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// resolveConfigFile returns the config file to load: the --config flag
// if set, otherwise the XDG default when one exists, otherwise empty.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	fallback := filepath.Join(xdg.ConfigDir(), "config.yml")
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}
