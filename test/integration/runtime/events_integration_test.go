// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//go:build integration

package runtime_test

import (
	"context"
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

var _ = Describe("Event Dispatch Integration", func() {
	var (
		pluginsDir string
		mgr        *plugin.Manager
		host       *server.Server
	)

	BeforeEach(func() {
		pluginsDir = GinkgoT().TempDir()

		log := quietLogger()
		mgr = plugin.NewManager(GinkgoT().TempDir(), plugin.WithLogger(log))
		host = server.New("cinder", "integration", mgr.Bus(), server.WithLogger(log))
		mgr.SetHost(host)
		mgr.AddLoader(context.Background(), lua.NewLoader(lua.WithLogger(log)))
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(mgr.Close(ctx)).To(Succeed())
	})

	It("rewrites a script broadcast before subscribers see it", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		event.Subscribe(mgr.Bus(), event.Normal, func(_ context.Context, ev *sdk.BroadcastEvent) error {
			ev.Message = "[relay] " + ev.Message
			return nil
		})

		ch := host.Subscribe()
		defer host.Unsubscribe(ch)

		writeScript(pluginsDir, "announcer.lua", announcerScript)
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())

		Expect(ch).To(Receive(Equal("[relay] hello from announcer")))
	})

	It("suppresses cancelled broadcasts", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		event.Subscribe(mgr.Bus(), event.Highest, func(_ context.Context, ev *sdk.BroadcastEvent) error {
			ev.SetCancelled(true)
			return nil
		})

		ch := host.Subscribe()
		defer host.Unsubscribe(ch)

		writeScript(pluginsDir, "announcer.lua", announcerScript)
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())

		// The script loaded fine; its broadcast just never reached anyone.
		Expect(mgr.IsPluginActive("announcer")).To(BeTrue())
		Expect(ch).NotTo(Receive())
	})

	It("hands observers the settled event after blocking handlers run", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		event.Subscribe(mgr.Bus(), event.High, func(_ context.Context, ev *sdk.BroadcastEvent) error {
			ev.Message = strings.ToUpper(ev.Message)
			return nil
		})

		var (
			mu       sync.Mutex
			observed []string
		)
		event.SubscribeAsync(mgr.Bus(), event.Normal, func(_ context.Context, ev sdk.BroadcastEvent) error {
			mu.Lock()
			observed = append(observed, ev.Message)
			mu.Unlock()
			return nil
		})

		Expect(host.Broadcast(ctx, "launch window open")).To(Succeed())

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), observed...)
		}, 2*time.Second, 10*time.Millisecond).Should(ConsistOf("LAUNCH WINDOW OPEN"))
	})

	It("announces plugin lifecycle on the bus", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var loaded, unloaded []string
		var removed []bool
		event.Subscribe(mgr.Bus(), event.Normal, func(_ context.Context, ev *sdk.PluginLoadedEvent) error {
			loaded = append(loaded, ev.Meta.Name)
			return nil
		})
		event.Subscribe(mgr.Bus(), event.Normal, func(_ context.Context, ev *sdk.PluginUnloadedEvent) error {
			unloaded = append(unloaded, ev.Meta.Name)
			removed = append(removed, ev.Removed)
			return nil
		})

		writeScript(pluginsDir, "greeter.lua", greeterScript)
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())
		Expect(loaded).To(Equal([]string{"greeter"}))
		Expect(unloaded).To(BeEmpty())

		Expect(mgr.UnloadPlugin(ctx, "greeter")).To(Succeed())
		Expect(unloaded).To(Equal([]string{"greeter"}))
		Expect(removed).To(Equal([]bool{true}))
	})

	It("stops delivering to a plugin's handlers after unload", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		loader := newMemLoader(".mem")
		mgr.AddLoader(ctx, loader)

		writeArtifact(pluginsDir, "counter.mem")
		Expect(mgr.LoadPlugins(ctx, pluginsDir)).To(Succeed())
		Expect(mgr.IsPluginActive("counter")).To(BeTrue())

		p := loader.plugin("counter")
		Expect(p).NotTo(BeNil())
		Expect(mgr.Bus().HandlerCount("server.broadcast")).To(Equal(1))

		Expect(host.Broadcast(ctx, "first")).To(Succeed())
		Expect(p.messages()).To(Equal([]string{"first"}))

		Expect(mgr.UnloadPlugin(ctx, "counter")).To(Succeed())
		Expect(mgr.Bus().HandlerCount("server.broadcast")).To(Equal(0))

		Expect(host.Broadcast(ctx, "second")).To(Succeed())
		Expect(p.messages()).To(Equal([]string{"first"}))
	})
})
