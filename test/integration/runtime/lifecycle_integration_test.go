// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//go:build integration

package runtime_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cindermc/cinder/internal/plugin"
	"github.com/cindermc/cinder/internal/plugin/lua"
	"github.com/cindermc/cinder/internal/server"
	"github.com/cindermc/cinder/pkg/event"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

const announcerScript = `
plugin = {
  name = "announcer",
  version = "1.2.0",
  description = "broadcasts a greeting when it loads",
}

function on_load()
  local err = cinder.broadcast("hello from announcer")
  if err then error(err) end
end

function on_unload()
  cinder.broadcast("goodbye from announcer")
end
`

const greeterScript = `
plugin = { name = "greeter", version = "0.9.1" }
`

const flakyScript = `
plugin = { name = "flaky", version = "1.0.0" }

function on_load()
  error("refusing to start")
end
`

const fixedFlakyScript = `
plugin = { name = "flaky", version = "1.0.1" }
`

const ledgerScript = `
plugin = { name = "ledger", version = "1.4.0" }
`

const ledgerUIScript = `
plugin = {
  name = "ledger-ui",
  version = "0.3.0",
  dependencies = {
    { name = "ledger", constraint = "^1.0" },
  },
}
`

const hotScript = `
plugin = { name = "hot", version = "2.0.0" }
`

var _ = Describe("Plugin Lifecycle Integration", func() {
	var (
		pluginsDir string
		dataRoot   string
		mgr        *plugin.Manager
		host       *server.Server
	)

	BeforeEach(func() {
		pluginsDir = GinkgoT().TempDir()
		dataRoot = GinkgoT().TempDir()

		log := quietLogger()
		mgr = plugin.NewManager(dataRoot, plugin.WithLogger(log))
		host = server.New("cinder", "integration", mgr.Bus(), server.WithLogger(log))
		mgr.SetHost(host)
		mgr.AddLoader(context.Background(), lua.NewLoader(lua.WithLogger(log)))
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(mgr.Close(ctx)).To(Succeed())
	})

	It("activates every recognized script in a scan", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		writeScript(pluginsDir, "announcer.lua", announcerScript)
		writeScript(pluginsDir, "greeter.lua", greeterScript)

		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())

		names := make([]string, 0, 2)
		for _, meta := range mgr.ActivePlugins() {
			names = append(names, meta.Name)
		}
		Expect(names).To(ConsistOf("announcer", "greeter"))
		Expect(mgr.IsPluginActive("announcer")).To(BeTrue())
		Expect(mgr.PendingArtifacts()).To(BeEmpty())

		// Each plugin gets a private data directory under the root.
		Expect(filepath.Join(dataRoot, "announcer")).To(BeADirectory())
		Expect(filepath.Join(dataRoot, "greeter")).To(BeADirectory())
	})

	It("queues unclaimed artifacts until a loader arrives", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		path := writeArtifact(pluginsDir, "counter.mem")

		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())
		Expect(mgr.PendingArtifacts()).To(ConsistOf(path))
		Expect(mgr.IsPluginLoaded("counter")).To(BeFalse())

		mgr.AddLoader(ctx, newMemLoader(".mem"))

		Expect(mgr.IsPluginActive("counter")).To(BeTrue())
		Expect(mgr.PendingArtifacts()).To(BeEmpty())
	})

	It("rolls back a script whose on_load fails", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		path := writeScript(pluginsDir, "flaky.lua", flakyScript)

		err := mgr.TryLoadPlugin(ctx, path)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("refusing to start"))
		Expect(mgr.IsPluginLoaded("flaky")).To(BeFalse())

		// The rollback released the name, so a corrected script with the
		// same identity loads cleanly.
		fixed := writeScript(pluginsDir, "flaky-fixed.lua", fixedFlakyScript)
		Expect(mgr.TryLoadPlugin(ctx, fixed)).To(Succeed())
		Expect(mgr.IsPluginActive("flaky")).To(BeTrue())
	})

	It("enforces declared dependencies", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		dependent := writeScript(pluginsDir, "ledger-ui.lua", ledgerUIScript)

		err := mgr.TryLoadPlugin(ctx, dependent)
		Expect(err).To(MatchError(plugin.ErrDependencyUnsatisfied))
		Expect(mgr.IsPluginLoaded("ledger-ui")).To(BeFalse())

		base := writeScript(pluginsDir, "ledger.lua", ledgerScript)
		Expect(mgr.TryLoadPlugin(ctx, base)).To(Succeed())
		Expect(mgr.TryLoadPlugin(ctx, dependent)).To(Succeed())
		Expect(mgr.IsPluginActive("ledger-ui")).To(BeTrue())
	})

	It("runs on_unload and removes the plugin", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		writeScript(pluginsDir, "announcer.lua", announcerScript)
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())

		ch := host.Subscribe()
		defer host.Unsubscribe(ch)

		Expect(mgr.UnloadPlugin(ctx, "announcer")).To(Succeed())
		Expect(ch).To(Receive(Equal("goodbye from announcer")))
		Expect(mgr.IsPluginLoaded("announcer")).To(BeFalse())
		Expect(mgr.ActivePlugins()).To(BeEmpty())
	})

	It("parks plugins whose loader cannot evict code", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		loader := newMemLoader(".mem")
		loader.canUnload = false
		mgr.AddLoader(ctx, loader)

		writeArtifact(pluginsDir, "pinned.mem")
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())

		Expect(mgr.UnloadPlugin(ctx, "pinned")).To(Succeed())

		state, ok := mgr.PluginState("pinned")
		Expect(ok).To(BeTrue())
		Expect(state).To(Equal(plugin.StateResidentInactive))
		Expect(mgr.IsPluginActive("pinned")).To(BeFalse())
		Expect(mgr.IsPluginLoaded("pinned")).To(BeTrue())

		// Unloading a parked plugin is a no-op, not an error.
		Expect(mgr.UnloadPlugin(ctx, "pinned")).To(Succeed())
	})

	It("hot-loads scripts dropped into a watched directory", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		watcher := plugin.NewWatcher(pluginsDir, mgr, plugin.WithQuietPeriod(50*time.Millisecond))
		Expect(watcher.Start(ctx)).To(Succeed())
		defer func() {
			Expect(watcher.Close()).To(Succeed())
		}()

		writeScript(pluginsDir, "hot.lua", hotScript)

		Eventually(func() bool {
			return mgr.IsPluginActive("hot")
		}, 5*time.Second, 25*time.Millisecond).Should(BeTrue())
	})
})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript drops a Lua plugin source file into dir.
func writeScript(dir, file, body string) string {
	path := filepath.Join(dir, file)
	ExpectWithOffset(1, os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
	return path
}

// writeArtifact drops an opaque artifact file into dir; only a loader
// claiming its extension can make sense of it.
func writeArtifact(dir, file string) string {
	path := filepath.Join(dir, file)
	ExpectWithOffset(1, os.WriteFile(path, []byte("mem artifact"), 0o600)).To(Succeed())
	return path
}

// memLoader serves prebuilt in-process plugin values for a fixed
// extension, standing in for a compiled-artifact loader.
type memLoader struct {
	ext       string
	canUnload bool

	mu     sync.Mutex
	loaded map[string]*memPlugin
}

func newMemLoader(ext string) *memLoader {
	return &memLoader{
		ext:       ext,
		canUnload: true,
		loaded:    make(map[string]*memPlugin),
	}
}

func (l *memLoader) Name() string { return "mem" }

func (l *memLoader) CanLoad(path string) bool {
	return strings.HasSuffix(path, l.ext)
}

func (l *memLoader) Load(_ context.Context, path string) (*plugin.Artifact, error) {
	name := strings.TrimSuffix(filepath.Base(path), l.ext)
	p := &memPlugin{}

	l.mu.Lock()
	l.loaded[name] = p
	l.mu.Unlock()

	return &plugin.Artifact{
		Plugin: p,
		Meta:   sdk.Metadata{Name: name, Version: "1.0.0"},
		Path:   path,
	}, nil
}

func (l *memLoader) Unload(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.loaded, name)
	return nil
}

func (l *memLoader) CanUnload(string) bool { return l.canUnload }

func (l *memLoader) plugin(name string) *memPlugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[name]
}

// memPlugin subscribes to host broadcasts on load and records every
// message its handler sees.
type memPlugin struct {
	mu   sync.Mutex
	seen []string
}

func (p *memPlugin) OnLoad(_ context.Context, pctx *sdk.Context) error {
	event.Subscribe(pctx.Events(), event.Normal, func(_ context.Context, ev *sdk.BroadcastEvent) error {
		p.mu.Lock()
		p.seen = append(p.seen, ev.Message)
		p.mu.Unlock()
		return nil
	})
	return nil
}

func (p *memPlugin) OnUnload(context.Context, *sdk.Context) error { return nil }

func (p *memPlugin) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}
