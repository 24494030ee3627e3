// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package config is the per-plugin configuration store: a YAML document
// loaded from the plugin's data directory, falling back to an
// artifact-embedded default. Values are addressed by top-level key
// only; nested dotted paths resolve to absent. This is a known
// limitation kept for compatibility, not an oversight to fix in place.
package config

import (
	"sort"
	"strings"
)

// Configuration holds the decoded top-level key/value pairs of one
// document. It is built fresh on every Store.Load and never cached;
// Set mutates only the in-memory copy.
type Configuration struct {
	data map[string]any
}

// New returns an empty configuration.
func New() *Configuration {
	return &Configuration{data: make(map[string]any)}
}

// FromMap wraps an already-decoded document. The map is taken over by
// the configuration.
func FromMap(m map[string]any) *Configuration {
	if m == nil {
		m = make(map[string]any)
	}
	return &Configuration{data: m}
}

// getValue resolves a dotted path. Only top-level single-segment keys
// are supported; multi-segment paths return absent.
func (c *Configuration) getValue(path string) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		v, ok := c.data[path]
		return v, ok
	}
	return nil, false
}

// GetString returns the string at path.
func (c *Configuration) GetString(path string) (string, bool) {
	v, ok := c.getValue(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetStringOr returns the string at path, or def when absent or
// mistyped.
func (c *Configuration) GetStringOr(path, def string) string {
	if s, ok := c.GetString(path); ok {
		return s
	}
	return def
}

// GetInt returns the integer at path. Floats do not coerce.
func (c *Configuration) GetInt(path string) (int64, bool) {
	v, ok := c.getValue(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// GetIntOr returns the integer at path, or def when absent or mistyped.
func (c *Configuration) GetIntOr(path string, def int64) int64 {
	if n, ok := c.GetInt(path); ok {
		return n
	}
	return def
}

// GetBool returns the boolean at path.
func (c *Configuration) GetBool(path string) (bool, bool) {
	v, ok := c.getValue(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetBoolOr returns the boolean at path, or def when absent or
// mistyped.
func (c *Configuration) GetBoolOr(path string, def bool) bool {
	if b, ok := c.GetBool(path); ok {
		return b
	}
	return def
}

// GetStringList returns the string sequence at path. Non-string items
// are dropped rather than failing the whole list.
func (c *Configuration) GetStringList(path string) ([]string, bool) {
	v, ok := c.getValue(path)
	if !ok {
		return nil, false
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(seq))
	for _, item := range seq {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// GetSection returns the nested mapping at path as its own
// configuration. Keys that are not strings are dropped.
func (c *Configuration) GetSection(path string) (*Configuration, bool) {
	v, ok := c.getValue(path)
	if !ok {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]any:
		data := make(map[string]any, len(m))
		for k, val := range m {
			data[k] = val
		}
		return &Configuration{data: data}, true
	case map[any]any:
		data := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				data[ks] = val
			}
		}
		return &Configuration{data: data}, true
	default:
		return nil, false
	}
}

// Set stores value in the in-memory copy. Dotted paths collapse to
// their final segment, mirroring the top-level-only lookup.
func (c *Configuration) Set(path string, value any) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return
	}
	c.data[parts[len(parts)-1]] = value
}

// Keys lists the top-level keys in sorted order.
func (c *Configuration) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of top-level keys.
func (c *Configuration) Len() int {
	return len(c.data)
}
