// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMetadataFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func runValidateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewValidateCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateCommand_ValidMetadata(t *testing.T) {
	path := writeMetadataFile(t, `
name: economy
version: 1.4.0
description: Currency and trading
authors:
  - ada
dependencies:
  - name: vault
    constraint: "^2.0"
    optional: true
`)

	out, err := runValidateCmd(t, path)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "valid plugin metadata") {
		t.Errorf("output missing success message: %q", out)
	}
}

func TestValidateCommand_InvalidName(t *testing.T) {
	path := writeMetadataFile(t, "name: Bad Name!\nversion: 1.0.0\n")

	_, err := runValidateCmd(t, path)
	if err == nil {
		t.Fatal("Expected error for invalid metadata")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Error should mention validation, got: %v", err)
	}
}

func TestValidateCommand_MissingRequiredFields(t *testing.T) {
	path := writeMetadataFile(t, "description: no name or version\n")

	_, err := runValidateCmd(t, path)
	if err == nil {
		t.Fatal("Expected error when name and version are missing")
	}
}

func TestValidateCommand_MalformedYAML(t *testing.T) {
	path := writeMetadataFile(t, "name: [unclosed\n")

	_, err := runValidateCmd(t, path)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := runValidateCmd(t, filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read metadata file") {
		t.Errorf("Error should mention reading the file, got: %v", err)
	}
}

func TestValidateCommand_RequiresArgument(t *testing.T) {
	_, err := runValidateCmd(t)
	if err == nil {
		t.Fatal("Expected error when no file argument is given")
	}
}
