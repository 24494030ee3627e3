// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//go:build !(linux || darwin || freebsd)

package native

import (
	"context"
	"runtime"

	"github.com/samber/oops"

	plugins "github.com/cindermc/cinder/internal/plugin"
)

// Load always fails: Go plugin support does not exist on this platform.
// CanLoad still claims .so files, so a scan reports each artifact with
// this error instead of silently skipping it.
func (l *Loader) Load(_ context.Context, path string) (*plugins.Artifact, error) {
	return nil, oops.In("native").
		With("path", path).
		With("platform", runtime.GOOS).
		New("native plugins are not supported on this platform")
}
