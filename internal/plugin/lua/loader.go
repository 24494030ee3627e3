// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"

	plugins "github.com/cindermc/cinder/internal/plugin"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// Compile-time interface check.
var _ plugins.Loader = (*Loader)(nil)

// Loader loads .lua plugin scripts.
//
// A script's top level runs once at load time inside a fresh sandboxed
// state and must leave behind a global `plugin` table declaring the
// plugin's metadata. Optional `on_load` and `on_unload` globals become
// the plugin's lifecycle hooks; the `cinder` host table is installed
// just before each hook runs, so top-level code does not see it. The
// state stays alive until the plugin is unloaded, which means globals
// set in one hook are visible in the next.
type Loader struct {
	factory *StateFactory
	log     *slog.Logger

	mu     sync.Mutex
	states map[string]*lua.LState
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger for loader diagnostics. Hook-time logging
// goes through each plugin's context logger instead.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader constructs a Lua script loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		factory: NewStateFactory(),
		log:     slog.Default(),
		states:  make(map[string]*lua.LState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements plugins.Loader.
func (l *Loader) Name() string { return "lua" }

// CanLoad claims files with a .lua extension.
func (l *Loader) CanLoad(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".lua")
}

// Load runs the script's top level in a fresh sandboxed state and
// decodes its plugin table. Lifecycle hooks are not called here.
func (l *Loader) Load(ctx context.Context, path string) (*plugins.Artifact, error) {
	errb := oops.In("lua").With("path", path)

	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errb.Hint("failed to read plugin script").Wrap(err)
	}

	L, err := l.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create interpreter state").Wrap(err)
	}
	L.SetContext(ctx)

	if err := L.DoString(string(code)); err != nil {
		L.Close()
		return nil, errb.Hint("script error").Wrap(err)
	}

	meta, err := metadataFromState(L)
	if err != nil {
		L.Close()
		return nil, errb.Wrap(err)
	}
	errb = errb.With("plugin", meta.Name)

	onLoad, err := hookFunction(L, "on_load")
	if err != nil {
		L.Close()
		return nil, errb.Wrap(err)
	}
	onUnload, err := hookFunction(L, "on_unload")
	if err != nil {
		L.Close()
		return nil, errb.Wrap(err)
	}

	l.mu.Lock()
	if _, exists := l.states[meta.Name]; exists {
		l.mu.Unlock()
		L.Close()
		return nil, errb.New("a script plugin with this name is already loaded")
	}
	l.states[meta.Name] = L
	l.mu.Unlock()

	l.log.Debug("lua script staged",
		"plugin", meta.Name,
		"path", path)

	return &plugins.Artifact{
		Plugin: &scriptPlugin{
			name:     meta.Name,
			state:    L,
			onLoad:   onLoad,
			onUnload: onUnload,
		},
		Meta: meta,
		Path: path,
	}, nil
}

// Unload closes the named plugin's interpreter state.
func (l *Loader) Unload(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	L, ok := l.states[name]
	if !ok {
		return oops.In("lua").With("plugin", name).New("plugin not loaded")
	}
	delete(l.states, name)
	L.Close()
	return nil
}

// CanUnload always reports true: closing the interpreter releases the
// script completely.
func (l *Loader) CanUnload(string) bool { return true }

// metadataFromState decodes and schema-validates the script's global
// plugin table.
func metadataFromState(L *lua.LState) (sdk.Metadata, error) {
	raw := L.GetGlobal("plugin")
	table, ok := raw.(*lua.LTable)
	if !ok {
		return sdk.Metadata{}, oops.In("lua").
			With("got", raw.Type().String()).
			Hint("scripts must define a global plugin table with name and version").
			New("global plugin is not a table")
	}

	doc, ok := decodeTable(table).(map[string]any)
	if !ok {
		return sdk.Metadata{}, oops.In("lua").New("plugin table must be a mapping, not an array")
	}

	if err := plugins.ValidateMetadata(doc); err != nil {
		return sdk.Metadata{}, oops.In("lua").Hint("plugin table failed schema validation").Wrap(err)
	}

	// The document already passed the schema; round-trip through YAML to
	// reuse the metadata field tags.
	data, err := yaml.Marshal(doc)
	if err != nil {
		return sdk.Metadata{}, oops.In("lua").Wrap(err)
	}
	var meta sdk.Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return sdk.Metadata{}, oops.In("lua").Wrap(err)
	}
	return meta, nil
}

// hookFunction fetches a global lifecycle hook. Absent hooks are nil; a
// non-function value is a script bug worth failing the load on.
func hookFunction(L *lua.LState, name string) (*lua.LFunction, error) {
	v := L.GetGlobal(name)
	switch fn := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LFunction:
		return fn, nil
	default:
		return nil, oops.In("lua").
			With("global", name).
			With("got", v.Type().String()).
			New("lifecycle hook is not a function")
	}
}
