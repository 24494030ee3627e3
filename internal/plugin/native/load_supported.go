// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//go:build linux || darwin || freebsd

package native

import (
	"context"
	goplugin "plugin"

	"github.com/samber/oops"

	plugins "github.com/cindermc/cinder/internal/plugin"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// Load opens the shared object and resolves its exported symbols.
// Lifecycle hooks are not called here.
func (l *Loader) Load(_ context.Context, path string) (*plugins.Artifact, error) {
	errb := oops.In("native").With("path", path)

	lib, err := goplugin.Open(path)
	if err != nil {
		return nil, errb.Hint("failed to open shared object").Wrap(err)
	}

	ver, err := lookupString(lib, symAPIVersion)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	if err := checkAPIVersion(ver); err != nil {
		return nil, errb.Wrap(err)
	}

	meta, err := lookupMetadata(lib)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	errb = errb.With("plugin", meta.Name)

	p, err := lookupPlugin(lib)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	l.mu.Lock()
	if _, exists := l.loaded[meta.Name]; exists {
		l.mu.Unlock()
		return nil, errb.New("a native plugin with this name is already resident")
	}
	l.loaded[meta.Name] = struct{}{}
	l.mu.Unlock()

	l.log.Debug("shared object mapped",
		"plugin", meta.Name,
		"path", path,
		"api_version", ver)

	return &plugins.Artifact{
		Plugin: p,
		Meta:   meta,
		Path:   path,
	}, nil
}

// lookupString resolves an exported string variable.
func lookupString(lib *goplugin.Plugin, name string) (string, error) {
	sym, err := lib.Lookup(name)
	if err != nil {
		return "", oops.In("native").With("symbol", name).Hint("artifact does not export the symbol").Wrap(err)
	}
	switch v := sym.(type) {
	case string:
		return v, nil
	case *string:
		return *v, nil
	default:
		return "", oops.In("native").With("symbol", name).New("exported symbol is not a string")
	}
}

// lookupMetadata resolves the exported Metadata variable.
func lookupMetadata(lib *goplugin.Plugin) (sdk.Metadata, error) {
	sym, err := lib.Lookup(symMetadata)
	if err != nil {
		return sdk.Metadata{}, oops.In("native").With("symbol", symMetadata).Hint("artifact does not export the symbol").Wrap(err)
	}
	switch v := sym.(type) {
	case sdk.Metadata:
		return v, nil
	case *sdk.Metadata:
		return *v, nil
	default:
		return sdk.Metadata{}, oops.In("native").With("symbol", symMetadata).New("exported symbol is not a plugin.Metadata")
	}
}

// lookupPlugin resolves the exported Plugin variable, declared either
// as the interface type or as a concrete value implementing it.
func lookupPlugin(lib *goplugin.Plugin) (sdk.Plugin, error) {
	sym, err := lib.Lookup(symPlugin)
	if err != nil {
		return nil, oops.In("native").With("symbol", symPlugin).Hint("artifact does not export the symbol").Wrap(err)
	}
	switch v := sym.(type) {
	case sdk.Plugin:
		return v, nil
	case *sdk.Plugin:
		return *v, nil
	default:
		return nil, oops.In("native").With("symbol", symPlugin).New("exported symbol does not implement plugin.Plugin")
	}
}
