// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package plugin implements the plugin runtime: loader registration,
// artifact loading, the lifecycle state machine, and teardown.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/cindermc/cinder/internal/permission"
	"github.com/cindermc/cinder/pkg/event"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// record tracks one known plugin.
type record struct {
	meta   sdk.Metadata
	plugin sdk.Plugin
	loader Loader
	path   string
	state  State
	seq    uint64 // load order, for reverse-order shutdown
}

// Manager owns the plugin lifecycle. Loaders are probed in registration
// order; the first CanLoad claim wins. Artifacts no loader recognizes
// stay queued and are retried whenever a new loader is registered.
//
// Lifecycle hooks always run outside the manager lock, so a hook may
// call back into the manager through its handle without deadlocking.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]*record
	loaders []Loader
	pending map[string]struct{}
	host    sdk.Host
	seq     uint64
	closed  bool

	bus      *event.Bus
	perms    *permission.Registry
	grants   map[string][]string
	dataRoot string
	log      *slog.Logger
	cleaner  *cleaner
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithGrants adds permission nodes granted to named plugins on top of
// the defaults, keyed by plugin name. Typically sourced from the
// runtime config.
func WithGrants(grants map[string][]string) Option {
	return func(m *Manager) {
		m.grants = grants
	}
}

// WithBusObserver replaces the prometheus-backed dispatch observer,
// mainly for tests.
func WithBusObserver(o event.Observer) Option {
	return func(m *Manager) {
		m.bus = event.New(event.WithObserver(o))
	}
}

// NewManager creates a manager whose plugins keep their private data
// under dataRoot. The manager starts without a host; lifecycle
// operations fail with ErrHostNotSet until SetHost is called.
func NewManager(dataRoot string, opts ...Option) *Manager {
	m := &Manager{
		plugins:  make(map[string]*record),
		pending:  make(map[string]struct{}),
		perms:    permission.NewRegistry(),
		dataRoot: dataRoot,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = event.New(event.WithObserver(busMetrics{}))
	}
	m.cleaner = newCleaner(m.log)
	return m
}

// Bus returns the dispatch bus the manager publishes lifecycle events
// on. The server and plugins share it.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Permissions returns the permission registry backing plugin contexts.
func (m *Manager) Permissions() *permission.Registry { return m.perms }

// SetHost wires the manager to the running server. Must be called
// before any load.
func (m *Manager) SetHost(h sdk.Host) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.host = h
}

// AddLoader registers a loader and retries any queued artifacts it
// recognizes. Retry failures are logged, not returned; a failed retry
// does not requeue the artifact once a loader has claimed it.
func (m *Manager) AddLoader(ctx context.Context, l Loader) {
	m.mu.Lock()
	m.loaders = append(m.loaders, l)

	var retry []string
	if m.host != nil {
		for path := range m.pending {
			if l.CanLoad(path) {
				retry = append(retry, path)
				delete(m.pending, path)
			}
		}
	}
	m.mu.Unlock()

	m.log.Info("registered plugin loader", "loader", l.Name(), "retrying", len(retry))

	sort.Strings(retry)
	for _, path := range retry {
		if err := m.loadArtifact(ctx, path, l); err != nil {
			m.log.Error("failed to load queued artifact",
				"loader", l.Name(),
				"path", path,
				"error", err)
		}
	}
}

// LoadPlugins scans dir for plugin artifacts and loads each one,
// creating dir first when it does not exist. Individual failures are
// logged and skipped so one broken artifact cannot keep the rest from
// loading; directory-level failures are returned.
func (m *Manager) LoadPlugins(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return oops.In("plugin").With("dir", dir).Hint("create plugins directory").Wrap(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return oops.In("plugin").With("dir", dir).Hint("read plugins directory").Wrap(err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := m.TryLoadPlugin(ctx, path); err != nil {
			if errors.Is(err, ErrNoLoader) {
				m.log.Warn("no loader recognizes artifact, queued for retry",
					"path", path)
				continue
			}
			m.log.Error("failed to load plugin",
				"path", path,
				"error", err)
		}
	}
	return nil
}

// TryLoadPlugin probes registered loaders for path and loads it with
// the first one that claims it. With no claim the path is queued and
// ErrNoLoader returned; AddLoader retries the queue.
func (m *Manager) TryLoadPlugin(ctx context.Context, path string) error {
	m.mu.RLock()
	closed := m.closed
	var chosen Loader
	for _, l := range m.loaders {
		if l.CanLoad(path) {
			chosen = l
			break
		}
	}
	m.mu.RUnlock()

	if closed {
		return oops.In("plugin").With("path", path).Wrap(ErrManagerClosed)
	}
	if chosen == nil {
		m.mu.Lock()
		m.pending[path] = struct{}{}
		m.mu.Unlock()
		return oops.In("plugin").With("path", path).Wrap(ErrNoLoader)
	}
	return m.loadArtifact(ctx, path, chosen)
}

// loadArtifact runs the full load sequence with one loader: load the
// artifact, validate its metadata, reserve the name, run OnLoad, then
// commit to active. Any failure after the loader produced an artifact
// queues a rollback so loader state never leaks.
func (m *Manager) loadArtifact(ctx context.Context, path string, l Loader) (err error) {
	errb := oops.In("plugin").With("loader", l.Name()).With("path", path)
	start := time.Now()
	defer func() { recordLoad(l.Name(), time.Since(start), err) }()

	m.mu.RLock()
	host := m.host
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errb.Wrap(ErrManagerClosed)
	}
	if host == nil {
		return errb.Hint("call SetHost before loading plugins").Wrap(ErrHostNotSet)
	}

	art, lerr := l.Load(ctx, path)
	if lerr != nil {
		return errb.Wrap(&LoadError{Loader: l.Name(), Path: path, Err: lerr})
	}

	meta := art.Meta
	if verr := meta.Validate(); verr != nil {
		m.discardArtifact(meta.Name, l, "metadata rejected")
		return errb.With("plugin", meta.Name).Hint("invalid metadata").Wrap(verr)
	}

	// Reserve the name so a concurrent load of the same plugin fails
	// fast instead of racing the hooks.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discardArtifact(meta.Name, l, "manager closed")
		return errb.Wrap(ErrManagerClosed)
	}
	if _, ok := m.plugins[meta.Name]; ok {
		m.mu.Unlock()
		m.discardArtifact(meta.Name, l, "duplicate name")
		return errb.With("plugin", meta.Name).Wrap(ErrAlreadyLoaded)
	}
	if derr := m.checkDependenciesLocked(meta); derr != nil {
		m.mu.Unlock()
		m.discardArtifact(meta.Name, l, "dependency unsatisfied")
		return errb.With("plugin", meta.Name).Wrap(derr)
	}
	m.seq++
	rec := &record{
		meta:   meta,
		plugin: art.Plugin,
		loader: l,
		path:   path,
		state:  StateLoading,
		seq:    m.seq,
	}
	m.plugins[meta.Name] = rec
	m.mu.Unlock()
	m.refreshStateGauge()

	pctx, cerr := m.contextFor(host, meta)
	if cerr != nil {
		m.rollback(rec, nil)
		return errb.With("plugin", meta.Name).Wrap(cerr)
	}

	if herr := rec.plugin.OnLoad(ctx, pctx); herr != nil {
		m.rollback(rec, pctx)
		return errb.With("plugin", meta.Name).Wrap(&HookError{Plugin: meta.Name, Hook: "on_load", Err: herr})
	}

	m.mu.Lock()
	rec.state = StateActive
	delete(m.pending, path)
	m.mu.Unlock()
	m.refreshStateGauge()

	m.log.Info("loaded plugin",
		"plugin", meta.Name,
		"version", meta.Version,
		"loader", l.Name())
	event.Publish(ctx, m.bus, sdk.PluginLoadedEvent{Meta: meta})
	return nil
}

// UnloadPlugin deactivates the named plugin: its handlers are dropped,
// OnUnload runs, and the artifact is evicted if the loader supports it.
// When the loader cannot evict, the plugin is parked resident-inactive
// and a later UnloadPlugin for it is a no-op. An OnUnload failure is
// returned but never blocks removal.
func (m *Manager) UnloadPlugin(ctx context.Context, name string) error {
	errb := oops.In("plugin").With("plugin", name).With("operation", "unload")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errb.Wrap(ErrManagerClosed)
	}
	rec, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return errb.Wrap(ErrPluginNotFound)
	}
	switch rec.state {
	case StateActive:
	case StateResidentInactive:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return errb.With("state", rec.state.String()).New("plugin is not active")
	}
	rec.state = StateUnloading
	host := m.host
	m.mu.Unlock()
	m.refreshStateGauge()
	m.warnActiveDependents(name)

	// Handlers stop before the hook runs so the plugin cannot observe
	// events mid-teardown.
	m.bus.DropSource(name)

	pctx := sdk.NewContext(rec.meta, host, m.bus.WithSource(name), m.handleFor(name), m.perms.Set(name), m.dataDirFor(name), m.log)
	var hookErr error
	if uerr := rec.plugin.OnUnload(ctx, pctx); uerr != nil {
		hookErr = &HookError{Plugin: name, Hook: "on_unload", Err: uerr}
		m.log.Error("on_unload hook failed",
			"plugin", name,
			"error", uerr)
	}
	m.perms.Revoke(name)

	removed := rec.loader.CanUnload(name)
	if removed {
		if lerr := rec.loader.Unload(ctx, name); lerr != nil {
			h := m.cleaner.enqueue(name, "artifact eviction", func(c context.Context) error {
				return rec.loader.Unload(c, name)
			})
			m.log.Warn("loader unload failed, queued for retry",
				"plugin", name,
				"task", h.ID(),
				"error", lerr)
		}
		m.mu.Lock()
		delete(m.plugins, name)
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		rec.state = StateResidentInactive
		m.mu.Unlock()
	}
	m.refreshStateGauge()
	recordUnload(hookErr)

	m.log.Info("unloaded plugin",
		"plugin", name,
		"removed", removed)
	event.Publish(ctx, m.bus, sdk.PluginUnloadedEvent{Meta: rec.meta, Removed: removed})

	if hookErr != nil {
		return errb.Wrap(hookErr)
	}
	return nil
}

// UnloadAll deactivates every active plugin in reverse load order.
// Per-plugin failures are logged and do not stop the sweep.
func (m *Manager) UnloadAll(ctx context.Context) {
	for _, name := range m.activeNamesReversed() {
		if err := m.UnloadPlugin(ctx, name); err != nil {
			m.log.Error("failed to unload plugin",
				"plugin", name,
				"error", err)
		}
	}
}

// Close unloads all active plugins in reverse load order, then drains
// the cleanup queue. The manager accepts no work afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range m.activeNamesReversed() {
		if err := m.UnloadPlugin(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if cerr := m.cleaner.close(ctx); cerr != nil {
		errs = append(errs, oops.In("plugin").Hint("cleanup queue did not drain").Wrap(cerr))
	}
	return errors.Join(errs...)
}

// activeNamesReversed snapshots active plugin names, most recently
// loaded first.
func (m *Manager) activeNamesReversed() []string {
	type target struct {
		name string
		seq  uint64
	}
	m.mu.RLock()
	targets := make([]target, 0, len(m.plugins))
	for name, rec := range m.plugins {
		if rec.state == StateActive {
			targets = append(targets, target{name: name, seq: rec.seq})
		}
	}
	m.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].seq > targets[j].seq })
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.name)
	}
	return names
}

// IsPluginActive reports whether name is loaded and active.
func (m *Manager) IsPluginActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.plugins[name]
	return ok && rec.state == StateActive
}

// IsPluginLoaded reports whether name is resident in any state.
func (m *Manager) IsPluginLoaded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.plugins[name]
	return ok
}

// PluginState returns the lifecycle state of the named plugin.
func (m *Manager) PluginState(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.plugins[name]
	if !ok {
		return StateUnloaded, false
	}
	return rec.state, true
}

// ActivePlugins lists metadata for all active plugins, sorted by name.
func (m *Manager) ActivePlugins() []sdk.Metadata {
	return m.listPlugins(func(rec *record) bool { return rec.state == StateActive })
}

// LoadedPlugins lists metadata for all resident plugins, sorted by
// name. Includes resident-inactive plugins.
func (m *Manager) LoadedPlugins() []sdk.Metadata {
	return m.listPlugins(func(*record) bool { return true })
}

func (m *Manager) listPlugins(keep func(*record) bool) []sdk.Metadata {
	m.mu.RLock()
	metas := make([]sdk.Metadata, 0, len(m.plugins))
	for _, rec := range m.plugins {
		if keep(rec) {
			metas = append(metas, rec.meta)
		}
	}
	m.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// Loaders lists the names of registered loaders in probe order.
func (m *Manager) Loaders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.loaders))
	for _, l := range m.loaders {
		names = append(names, l.Name())
	}
	return names
}

// PendingArtifacts lists queued paths no loader has claimed, sorted.
func (m *Manager) PendingArtifacts() []string {
	m.mu.RLock()
	paths := make([]string, 0, len(m.pending))
	for path := range m.pending {
		paths = append(paths, path)
	}
	m.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// contextFor grants the plugin its permission set, creates its data
// directory, and assembles the capability bundle for hooks.
func (m *Manager) contextFor(host sdk.Host, meta sdk.Metadata) (*sdk.Context, error) {
	nodes := permission.DefaultNodes()
	nodes = append(nodes, m.grants[meta.Name]...)
	if err := m.perms.Grant(meta.Name, nodes); err != nil {
		return nil, fmt.Errorf("grant permissions: %w", err)
	}

	dataDir := m.dataDirFor(meta.Name)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		m.perms.Revoke(meta.Name)
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return sdk.NewContext(meta, host, m.bus.WithSource(meta.Name), m.handleFor(meta.Name), m.perms.Set(meta.Name), dataDir, m.log), nil
}

func (m *Manager) dataDirFor(name string) string {
	return filepath.Join(m.dataRoot, name)
}

// rollback undoes a reserved load after a failure: the record is
// dropped immediately and the plugin's OnUnload plus loader teardown
// run on the cleanup queue. pctx may be nil when OnLoad never ran.
func (m *Manager) rollback(rec *record, pctx *sdk.Context) {
	name := rec.meta.Name

	m.mu.Lock()
	delete(m.plugins, name)
	m.mu.Unlock()

	m.bus.DropSource(name)
	m.perms.Revoke(name)
	m.refreshStateGauge()

	h := m.cleaner.enqueue(name, "load rollback", func(c context.Context) error {
		if pctx != nil {
			if uerr := rec.plugin.OnUnload(c, pctx); uerr != nil {
				m.log.Warn("on_unload failed during rollback",
					"plugin", name,
					"error", uerr)
			}
		}
		return rec.loader.Unload(c, name)
	})
	m.log.Debug("queued load rollback",
		"plugin", name,
		"task", h.ID())
}

// discardArtifact tears down loader state for an artifact the manager
// rejected before reserving it.
func (m *Manager) discardArtifact(name string, l Loader, reason string) {
	h := m.cleaner.enqueue(name, reason, func(c context.Context) error {
		return l.Unload(c, name)
	})
	m.log.Debug("queued artifact discard",
		"plugin", name,
		"reason", reason,
		"task", h.ID())
}

// checkDependenciesLocked verifies declared dependencies against the
// active plugin set. Callers hold m.mu.
func (m *Manager) checkDependenciesLocked(meta sdk.Metadata) error {
	for _, dep := range meta.Dependencies {
		rec, ok := m.plugins[dep.Name]
		if !ok || rec.state != StateActive {
			if dep.Optional {
				continue
			}
			return fmt.Errorf("%w: %s requires %s, which is not active", ErrDependencyUnsatisfied, meta.Name, dep.Name)
		}
		if dep.Constraint == "" {
			continue
		}
		c, err := semver.NewConstraint(dep.Constraint)
		if err != nil {
			return fmt.Errorf("dependency %s: constraint %q: %w", dep.Name, dep.Constraint, err)
		}
		if !c.Check(rec.meta.SemVer()) {
			return fmt.Errorf("%w: %s requires %s %s, have %s", ErrDependencyUnsatisfied, meta.Name, dep.Name, dep.Constraint, rec.meta.Version)
		}
	}
	return nil
}

// warnActiveDependents logs active plugins that declare a required
// dependency on name. Unloading proceeds regardless; dependents keep
// running against a gone dependency at their own risk.
func (m *Manager) warnActiveDependents(name string) {
	var dependents []string
	m.mu.RLock()
	for _, rec := range m.plugins {
		if rec.state != StateActive || rec.meta.Name == name {
			continue
		}
		for _, dep := range rec.meta.Dependencies {
			if dep.Name == name && !dep.Optional {
				dependents = append(dependents, rec.meta.Name)
				break
			}
		}
	}
	m.mu.RUnlock()

	if len(dependents) > 0 {
		sort.Strings(dependents)
		m.log.Warn("unloading plugin with active dependents",
			"plugin", name,
			"dependents", dependents)
	}
}

func (m *Manager) refreshStateGauge() {
	counts := make(map[State]int)
	m.mu.RLock()
	for _, rec := range m.plugins {
		counts[rec.state]++
	}
	m.mu.RUnlock()

	activePlugins.Reset()
	for state, n := range counts {
		activePlugins.WithLabelValues(state.String()).Set(float64(n))
	}
}
