// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package plugin is the SDK implemented by Cinder plugins. A plugin is
// an independently loaded code artifact that receives lifecycle hooks
// and a Context granting it a narrow capability surface back into the
// runtime: the event bus, host queries, permissions, and its data
// directory.
package plugin

import "context"

// APIVersion is the SDK contract version. Native plugins export the
// value they were compiled against; the loader refuses artifacts built
// for a different major version.
const APIVersion = "1.4.0"

// Plugin receives lifecycle calls from the runtime. Both hooks may
// fail; only an OnLoad failure prevents activation. Implementations
// must not retain the Context or any capability reference beyond the
// hook invocation for work that depends on host teardown ordering.
type Plugin interface {
	// OnLoad is called once after the artifact is loaded and before the
	// plugin is marked active. Returning an error rolls the load back.
	OnLoad(ctx context.Context, pctx *Context) error

	// OnUnload is called once when the plugin is deactivated. Errors
	// are logged and otherwise discarded.
	OnUnload(ctx context.Context, pctx *Context) error
}
