// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"

	"github.com/samber/oops"

	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// ManageNode is the permission node gating lifecycle mutations through
// a plugin's manager handle. Not granted by default.
const ManageNode = "cinder.plugins.manage"

// Compile-time interface check.
var _ sdk.ManagerHandle = managerHandle{}

// managerHandle is the capability slice of the manager handed to one
// plugin's Context. Queries pass through; mutations require the manage
// permission node.
type managerHandle struct {
	m      *Manager
	plugin string
}

func (m *Manager) handleFor(plugin string) sdk.ManagerHandle {
	return managerHandle{m: m, plugin: plugin}
}

func (h managerHandle) LoadPlugin(ctx context.Context, path string) error {
	if !h.m.perms.Allows(h.plugin, ManageNode) {
		return oops.In("plugin").With("plugin", h.plugin).With("node", ManageNode).Wrap(ErrPermissionDenied)
	}
	return h.m.TryLoadPlugin(ctx, path)
}

func (h managerHandle) UnloadPlugin(ctx context.Context, name string) error {
	if !h.m.perms.Allows(h.plugin, ManageNode) {
		return oops.In("plugin").With("plugin", h.plugin).With("node", ManageNode).Wrap(ErrPermissionDenied)
	}
	return h.m.UnloadPlugin(ctx, name)
}

func (h managerHandle) IsPluginActive(name string) bool {
	return h.m.IsPluginActive(name)
}

func (h managerHandle) IsPluginLoaded(name string) bool {
	return h.m.IsPluginLoaded(name)
}

func (h managerHandle) ActivePlugins() []sdk.Metadata {
	return h.m.ActivePlugins()
}

func (h managerHandle) LoadedPlugins() []sdk.Metadata {
	return h.m.LoadedPlugins()
}
