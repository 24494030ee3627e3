// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/cindermc/cinder/internal/permission"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// Compile-time interface check.
var _ sdk.Plugin = (*scriptPlugin)(nil)

// scriptPlugin bridges a loaded script's lifecycle globals to the
// plugin SDK. Hooks share the plugin's interpreter state; the lifecycle
// manager serializes them, so no locking is needed here.
type scriptPlugin struct {
	name     string
	state    *lua.LState
	onLoad   *lua.LFunction
	onUnload *lua.LFunction
}

// OnLoad installs the cinder host table and calls the script's on_load,
// if defined.
func (p *scriptPlugin) OnLoad(ctx context.Context, pctx *sdk.Context) error {
	installHostTable(p.state, pctx)
	return p.call(ctx, p.onLoad, "on_load")
}

// OnUnload calls the script's on_unload, if defined. The host table is
// reinstalled first so the hook sees the unload-time capability set.
func (p *scriptPlugin) OnUnload(ctx context.Context, pctx *sdk.Context) error {
	installHostTable(p.state, pctx)
	return p.call(ctx, p.onUnload, "on_unload")
}

func (p *scriptPlugin) call(ctx context.Context, fn *lua.LFunction, hook string) error {
	if fn == nil {
		return nil
	}
	p.state.SetContext(ctx)
	if err := p.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}); err != nil {
		return oops.In("lua").With("plugin", p.name).With("hook", hook).Wrap(err)
	}
	return nil
}

// installHostTable publishes the cinder global: the host API a script
// may call during lifecycle hooks.
//
//	cinder.plugin_name, cinder.plugin_version, cinder.data_dir
//	cinder.host_name, cinder.host_version
//	cinder.log(level, message)
//	cinder.broadcast(message) -> err  (requires cinder.broadcast)
//	cinder.active_plugins() -> {names}
func installHostTable(L *lua.LState, pctx *sdk.Context) {
	mod := L.NewTable()

	L.SetField(mod, "plugin_name", lua.LString(pctx.Metadata().Name))
	L.SetField(mod, "plugin_version", lua.LString(pctx.Metadata().Version))
	L.SetField(mod, "data_dir", lua.LString(pctx.DataDir()))
	if host := pctx.Host(); host != nil {
		L.SetField(mod, "host_name", lua.LString(host.Name()))
		L.SetField(mod, "host_version", lua.LString(host.Version()))
	}

	L.SetField(mod, "log", L.NewFunction(logFn(pctx)))
	L.SetField(mod, "broadcast", L.NewFunction(gated(pctx, permission.BroadcastNode, broadcastFn(pctx))))
	L.SetField(mod, "active_plugins", L.NewFunction(activePluginsFn(pctx)))

	L.SetGlobal("cinder", mod)
}

// gated raises a Lua error when the plugin lacks the permission node.
func gated(pctx *sdk.Context, node string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		perms := pctx.Permissions()
		if perms == nil || !perms.Allows(node) {
			L.RaiseError("permission denied: %s requires %s", pctx.Metadata().Name, node)
			return 0
		}
		return fn(L)
	}
}

func logFn(pctx *sdk.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		log := pctx.Log()
		switch level {
		case "debug":
			log.Debug(message)
		case "info":
			log.Info(message)
		case "warn":
			log.Warn(message)
		case "error":
			log.Error(message)
		default:
			log.Info(message)
		}
		return 0
	}
}

func broadcastFn(pctx *sdk.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		message := L.CheckString(1)

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := pctx.Host().Broadcast(ctx, message); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

func activePluginsFn(pctx *sdk.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		t := L.NewTable()
		for _, meta := range pctx.Manager().ActivePlugins() {
			t.Append(lua.LString(meta.Name))
		}
		L.Push(t)
		return 1
	}
}

// decodeValue converts a Lua value to its Go metadata-document shape.
func decodeValue(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return decodeTable(val)
	default:
		return val.String()
	}
}

// decodeTable converts a Lua table to a Go slice when its keys are the
// consecutive integers from 1, and to a string-keyed map otherwise. An
// empty table decodes as an empty map; scripts should omit empty list
// fields rather than write {}.
func decodeTable(t *lua.LTable) any {
	if n := t.MaxN(); n > 0 {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			list = append(list, decodeValue(t.RawGetInt(i)))
		}
		return list
	}

	doc := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		doc[k.String()] = decodeValue(v)
	})
	return doc
}
