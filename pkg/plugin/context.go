// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"
	"log/slog"

	"github.com/cindermc/cinder/pkg/event"
)

// ManagerHandle is the slice of the lifecycle manager a plugin may call
// back into. It exposes specific operations rather than the manager
// itself, so a hook re-entering the runtime can never deadlock on a
// lock its caller holds.
type ManagerHandle interface {
	// LoadPlugin probes registered loaders for path and loads it.
	LoadPlugin(ctx context.Context, path string) error
	// UnloadPlugin deactivates the named plugin, removing it entirely
	// when its loader supports unloading.
	UnloadPlugin(ctx context.Context, name string) error
	// IsPluginActive reports whether name is loaded and active.
	IsPluginActive(name string) bool
	// IsPluginLoaded reports whether name is resident, active or not.
	IsPluginLoaded(name string) bool
	// ActivePlugins lists metadata for all active plugins.
	ActivePlugins() []Metadata
	// LoadedPlugins lists metadata for all resident plugins.
	LoadedPlugins() []Metadata
}

// Permissions exposes the permission nodes granted to a plugin.
type Permissions interface {
	// Allows reports whether the dot-separated node is granted.
	Allows(node string) bool
	// Nodes lists the granted node patterns.
	Nodes() []string
}

// Context is the capability bundle handed to a plugin's lifecycle
// hooks. It is scoped to a single load or unload; plugins must not
// stash it for later host-dependent work, since the host may be gone
// after unload.
type Context struct {
	meta    Metadata
	host    Host
	bus     *event.Bus
	manager ManagerHandle
	perms   Permissions
	dataDir string
	log     *slog.Logger
}

// NewContext assembles a capability bundle. The runtime calls this once
// per lifecycle hook invocation; plugins never construct contexts.
func NewContext(meta Metadata, host Host, bus *event.Bus, manager ManagerHandle, perms Permissions, dataDir string, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		meta:    meta,
		host:    host,
		bus:     bus,
		manager: manager,
		perms:   perms,
		dataDir: dataDir,
		log:     log.With("plugin", meta.Name),
	}
}

// Metadata returns the plugin's identity record.
func (c *Context) Metadata() Metadata { return c.meta }

// Host returns the opaque host reference.
func (c *Context) Host() Host { return c.host }

// Events returns the dispatch bus. Subscriptions made through it are
// attributed to this plugin.
func (c *Context) Events() *event.Bus { return c.bus }

// Manager returns the lifecycle manager capability handle.
func (c *Context) Manager() ManagerHandle { return c.manager }

// Permissions returns the plugin's granted permission set.
func (c *Context) Permissions() Permissions { return c.perms }

// DataDir is the plugin's private data directory. It exists by the time
// OnLoad runs.
func (c *Context) DataDir() string { return c.dataDir }

// Log returns a logger pre-tagged with the plugin name.
func (c *Context) Log() *slog.Logger { return c.log }
