// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"

	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// Artifact is what a Loader produces from one plugin file: the live
// plugin value, its declared metadata, and the path it came from.
type Artifact struct {
	Plugin sdk.Plugin
	Meta   sdk.Metadata
	Path   string
}

// Loader turns plugin files of one format into running plugin
// instances. Implementations keep whatever per-plugin state they need
// to unload later (an interpreter handle, an open library).
//
// Loaders are probed in registration order; the first CanLoad claim
// wins, so register more specific loaders first.
type Loader interface {
	// Name identifies the loader in logs and errors.
	Name() string

	// CanLoad reports whether this loader recognizes the artifact at
	// path. It must be cheap; extension and magic-byte checks only.
	CanLoad(path string) bool

	// Load reads the artifact and constructs the plugin instance. The
	// manager runs lifecycle hooks afterwards; Load must not.
	Load(ctx context.Context, path string) (*Artifact, error)

	// Unload releases loader state for the named plugin. Called after
	// the plugin's OnUnload hook has run.
	Unload(ctx context.Context, name string) error

	// CanUnload reports whether the named plugin's code can actually be
	// evicted from the process. Loaders that map artifacts into the
	// process image permanently return false; the manager then parks
	// the plugin as resident-inactive instead of removing it.
	CanUnload(name string) bool
}
