// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	sdk "github.com/cindermc/cinder/pkg/plugin"
)

var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// SchemaID returns the schema $id declared metadata documents may
// reference.
func SchemaID() string {
	return "https://cindermc.dev/schemas/plugin-metadata.schema.json"
}

// GenerateMetadataSchema reflects the plugin metadata struct into a
// JSON Schema. The cinder schema subcommand writes this to disk for
// editor tooling.
func GenerateMetadataSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&sdk.Metadata{})

	schema.ID = jsonschema.ID(SchemaID())
	schema.Title = "Cinder Plugin Metadata"
	schema.Description = "Schema for plugin metadata declarations"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// ValidateMetadataBytes validates a YAML metadata document against the
// schema. Used by the cinder validate subcommand on standalone files.
func ValidateMetadataBytes(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("metadata is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return ValidateMetadata(doc)
}

// ValidateMetadata validates an already-decoded metadata document. The
// Lua loader passes converted plugin tables through here before
// trusting any field.
func ValidateMetadata(doc any) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateMetadataSchema()
	if err != nil {
		return nil, err
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	schemaCache = sch
	return sch, nil
}

// toJSONTypes rewrites decoder output into the types the validator
// expects. YAML and Lua decoding both produce map[any]any in places;
// non-string keys are stringified.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = toJSONTypes(item)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[fmt.Sprint(k)] = toJSONTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = toJSONTypes(item)
		}
		return result
	case string, int, int64, float64, bool, nil:
		return val
	default:
		// Round-trip anything exotic through JSON.
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

// ResetSchemaCache clears the compiled schema. Used for testing.
func ResetSchemaCache() {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaCache = nil
}

// FormatSchemaError strips the wrapping prefix from a validation error
// for command-line display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	return strings.TrimPrefix(msg, "schema validation failed: ")
}
