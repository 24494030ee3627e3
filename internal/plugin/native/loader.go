// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package native loads compiled plugin shared objects.
//
// An artifact is a Go plugin built with -buildmode=plugin that exports
// three package-level variables:
//
//	var APIVersion = plugin.APIVersion  // SDK version compiled against
//	var Metadata   = plugin.Metadata{…} // identity record
//	var Plugin     plugin.Plugin        // the plugin instance
//
// The loader refuses artifacts whose APIVersion differs from the host
// SDK in its major version. Shared objects stay mapped into the process
// for its lifetime; CanUnload is always false, so the manager parks
// unloaded native plugins as resident-inactive instead of removing
// them.
package native

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	plugins "github.com/cindermc/cinder/internal/plugin"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// Compile-time interface check.
var _ plugins.Loader = (*Loader)(nil)

// Symbol names an artifact must export.
const (
	symAPIVersion = "APIVersion"
	symMetadata   = "Metadata"
	symPlugin     = "Plugin"
)

// Loader loads .so plugin artifacts.
type Loader struct {
	log *slog.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger for loader diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader constructs a native plugin loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		log:    slog.Default(),
		loaded: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements plugins.Loader.
func (l *Loader) Name() string { return "native" }

// CanLoad claims files with a .so extension. The probe is identical on
// platforms without plugin support, so the same loader claims the file
// everywhere; only Load varies.
func (l *Loader) CanLoad(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".so")
}

// Unload releases the loader's bookkeeping for the named plugin. The
// shared object itself stays mapped; there is no dlclose for Go
// plugins.
func (l *Loader) Unload(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.loaded[name]; !ok {
		return oops.In("native").With("plugin", name).New("plugin not loaded")
	}
	delete(l.loaded, name)
	return nil
}

// CanUnload always reports false: the artifact's code cannot be
// evicted from the process image.
func (l *Loader) CanUnload(string) bool { return false }

// checkAPIVersion gates artifacts on the major version of the SDK they
// were compiled against.
func checkAPIVersion(got string) error {
	host, err := semver.NewVersion(sdk.APIVersion)
	if err != nil {
		return oops.In("native").With("host_api", sdk.APIVersion).Wrap(err)
	}
	have, err := semver.NewVersion(got)
	if err != nil {
		return oops.In("native").
			With("plugin_api", got).
			Hint("artifact exports a malformed APIVersion").
			Wrap(err)
	}
	if have.Major() != host.Major() {
		return oops.In("native").
			With("plugin_api", got).
			With("host_api", sdk.APIVersion).
			New("plugin was built against an incompatible SDK major version")
	}
	return nil
}
