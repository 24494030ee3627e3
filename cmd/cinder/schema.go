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

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin metadata JSON Schema",
		Long: `Generates the JSON Schema that plugin metadata documents are
validated against. Write it somewhere editor tooling can find it:
  cinder schema -o schemas/plugin-metadata.schema.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to a file instead of stdout")

	return cmd
}

func runSchema(cmd *cobra.Command, output string) error {
	schema, err := plugin.GenerateMetadataSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if output == "" {
		cmd.Println(string(schema))
		return nil
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, schema, 0o600); err != nil {
		return fmt.Errorf("write schema file: %w", err)
	}

	cmd.Printf("Generated %s\n", output)
	return nil
}
