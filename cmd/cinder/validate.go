// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cindermc/cinder/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <metadata-file>",
		Short: "Validate a plugin metadata document without loading it",
		Long: `Validates a YAML plugin metadata document against the metadata
schema. Does NOT execute any plugin code.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch metadata errors early:
  cinder validate plugin.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read metadata file: %w", err)
	}

	if err := plugin.ValidateMetadataBytes(data); err != nil {
		return fmt.Errorf("validation failed: %s", plugin.FormatSchemaError(err))
	}

	cmd.Printf("%s: valid plugin metadata\n", path)
	return nil
}
