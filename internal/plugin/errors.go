// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrHostNotSet is returned when a lifecycle operation runs before
	// SetHost has wired the manager to a server host.
	ErrHostNotSet = errors.New("host not set")
	// ErrManagerClosed is returned when operations are attempted on a
	// closed manager.
	ErrManagerClosed = errors.New("manager is closed")
	// ErrPluginNotFound is returned when operating on a plugin name the
	// manager does not know.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrAlreadyLoaded is returned when loading an artifact whose
	// metadata names a plugin that is already loaded.
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	// ErrNoLoader is returned when no registered loader recognizes an
	// artifact. The path stays queued and is retried when a new loader
	// is registered.
	ErrNoLoader = errors.New("no loader for artifact")
	// ErrPermissionDenied is returned when a plugin calls a manager
	// operation without the required permission node.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDependencyUnsatisfied is returned when a plugin declares a
	// required dependency that is absent, inactive, or outside the
	// declared version constraint.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")
)

// LoadError reports a loader failure for one artifact. It wraps the
// loader's underlying error so callers can errors.Is/As through it.
type LoadError struct {
	Loader string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader %s failed on %s: %v", e.Loader, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// HookError reports a plugin lifecycle hook failure. Hook is "on_load"
// or "on_unload".
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s hook failed: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
