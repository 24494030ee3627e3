// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// defaultQuietPeriod is how long a file must stay unchanged before the
// watcher tries to load it. Copies into the plugins directory arrive as
// a burst of writes; loading mid-copy reads a truncated artifact.
const defaultQuietPeriod = 500 * time.Millisecond

// Watcher hot-loads artifacts dropped into the plugins directory while
// the server runs. Only newly created files trigger loads; changes to
// already-loaded artifacts are ignored, since loaded plugins run from
// memory and a reload requires an explicit unload first.
type Watcher struct {
	dir     string
	manager *Manager
	log     *slog.Logger
	quiet   time.Duration

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithQuietPeriod overrides the settle window before a new file loads.
func WithQuietPeriod(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.quiet = d
	}
}

// NewWatcher creates a watcher for dir feeding m. Call Start to begin
// watching.
func NewWatcher(dir string, m *Manager, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:     dir,
		manager: m,
		log:     m.log,
		quiet:   defaultQuietPeriod,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The watch ends when ctx is cancelled or Close
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("plugin").Hint("create file watcher").Wrap(err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return oops.In("plugin").With("dir", w.dir).Hint("watch plugins directory").Wrap(err)
	}
	w.fsw = fsw

	go w.loop(ctx)
	w.log.Info("watching plugins directory", "dir", w.dir)
	return nil
}

// Close stops the watcher and waits for its loop to exit. Safe to call
// only once, and only after Start.
func (w *Watcher) Close() error {
	close(w.stop)
	<-w.done
	return w.fsw.Close()
}

// loop owns all debounce state; nothing else touches it.
func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	lastSeen := make(map[string]time.Time)
	ticker := time.NewTicker(w.quiet / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				delete(lastSeen, ev.Name)
				continue
			}
			if w.ignorable(ev.Name) {
				continue
			}
			// Writes only extend the settle window for files already
			// seen arriving; they never start a load by themselves.
			if _, seen := lastSeen[ev.Name]; !seen && !ev.Has(fsnotify.Create) {
				continue
			}
			lastSeen[ev.Name] = time.Now()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("plugin watcher error", "error", err)
		case <-ticker.C:
			for path, last := range lastSeen {
				if time.Since(last) < w.quiet {
					continue
				}
				delete(lastSeen, path)
				w.load(ctx, path)
			}
		}
	}
}

// ignorable filters directories and temp files out of the event stream.
func (w *Watcher) ignorable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".partial") {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		// Gone already; nothing to load.
		return true
	}
	return info.IsDir()
}

func (w *Watcher) load(ctx context.Context, path string) {
	err := w.manager.TryLoadPlugin(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoLoader):
		w.log.Warn("no loader recognizes new artifact, queued",
			"path", path)
	case errors.Is(err, ErrAlreadyLoaded):
		w.log.Debug("artifact for already-loaded plugin changed, ignoring",
			"path", path)
	default:
		w.log.Error("failed to hot-load plugin",
			"path", path,
			"error", err)
	}
}
