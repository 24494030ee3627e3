// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package main implements a greeter plugin for Cinder. It watches the
// bus for plugins becoming active and broadcasts a configurable
// welcome for each one.
//
// Build as a shared object:
//
//	go build -buildmode=plugin -o greeter.so ./plugins/greeter
//
// The native loader resolves three exported variables:
//   - APIVersion: the SDK version the artifact was compiled against
//   - Metadata:   the plugin identity record
//   - Plugin:     the instance receiving lifecycle hooks
package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/cindermc/cinder/pkg/event"
	"github.com/cindermc/cinder/pkg/plugin"
	"github.com/cindermc/cinder/pkg/plugin/config"
)

//go:embed resources
var resources embed.FS

// APIVersion gates loading; the runtime refuses artifacts built against
// a different SDK major version.
var APIVersion = plugin.APIVersion

// Metadata identifies this artifact.
var Metadata = plugin.Metadata{
	Name:        "greeter",
	Version:     "1.0.0",
	Description: "Broadcasts a welcome when plugins become active",
	Authors:     []string{"Cinder Contributors"},
	Website:     "https://cindermc.dev",
}

// Plugin is the instance the runtime drives.
var Plugin plugin.Plugin = &greeter{}

type greeter struct {
	template string
}

func (g *greeter) OnLoad(_ context.Context, pctx *plugin.Context) error {
	sub, err := fs.Sub(resources, "resources")
	if err != nil {
		return err
	}

	store := config.NewStore(pctx.Metadata().Name, pctx.DataDir(), sub)
	if err := store.SaveDefault(config.DefaultFile); err != nil {
		return err
	}
	cfg, err := store.LoadDefault()
	if err != nil {
		return err
	}
	g.template = cfg.GetStringOr("template", "Welcome, %s!")

	host := pctx.Host()
	self := pctx.Metadata().Name
	event.SubscribeAsync(pctx.Events(), event.Normal,
		func(ctx context.Context, ev plugin.PluginLoadedEvent) error {
			if ev.Meta.Name == self {
				return nil
			}
			return host.Broadcast(ctx, fmt.Sprintf(g.template, ev.Meta.Name))
		})

	pctx.Log().Info("greeter ready", "template", g.template)
	return nil
}

func (g *greeter) OnUnload(ctx context.Context, pctx *plugin.Context) error {
	return pctx.Host().Broadcast(ctx, "greeter signing off")
}

func main() {}
