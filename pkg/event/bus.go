// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package event implements the typed publish/subscribe bus that routes
// host and plugin events. Handlers are registered per event type with a
// priority and a blocking mode: blocking handlers run sequentially and
// may mutate the event, non-blocking handlers then run concurrently on
// read-only snapshots. Individual handlers cannot be removed; a
// source's registrations are dropped wholesale when its plugin leaves
// the active state.
package event

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// HandlerFunc is a blocking handler. It receives the live event and may
// mutate it; later handlers and the publisher observe the mutation.
type HandlerFunc[E Event] func(ctx context.Context, ev *E) error

// AsyncHandlerFunc is a non-blocking handler. It receives its own copy
// of the event after all blocking handlers have run, so it cannot
// affect the published event or race with other handlers.
type AsyncHandlerFunc[E Event] func(ctx context.Context, ev E) error

// entry is a type-erased registration. invoke type-asserts the boxed
// event against the registered type and reports whether it matched; a
// mismatch skips the handler without touching the event.
type entry struct {
	source   string
	priority Priority
	blocking bool
	invoke   func(ctx context.Context, ev any) (matched bool, err error)
}

// registry is the shared handler store behind every Bus view.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	obs      Observer
}

// Bus dispatches events to registered handlers. Views created with
// WithSource share one underlying registry, so a subscription made
// through any view is seen by every publisher.
type Bus struct {
	reg *registry

	// source attributes registrations made through this view, typically
	// a plugin name. Empty for the root bus.
	source string
}

// Option configures a Bus.
type Option func(*registry)

// WithObserver sets the dispatch statistics sink.
func WithObserver(o Observer) Option {
	return func(r *registry) {
		r.obs = o
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	r := &registry{
		handlers: make(map[string][]entry),
		obs:      nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return &Bus{reg: r}
}

// WithSource returns a view of the bus whose registrations are
// attributed to src in logs and metrics.
func (b *Bus) WithSource(src string) *Bus {
	return &Bus{reg: b.reg, source: src}
}

// Source returns the attribution label of this view.
func (b *Bus) Source() string { return b.source }

// HandlerCount returns the number of handlers registered for the named
// event type.
func (b *Bus) HandlerCount(event string) int {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	return len(b.reg.handlers[event])
}

// DropSource removes every handler registered through views attributed
// to src, across all event types, and returns how many were dropped.
// The runtime calls this when a plugin deactivates. Buckets are rebuilt
// rather than edited in place so snapshots held by an in-flight publish
// stay valid.
func (b *Bus) DropSource(src string) int {
	r := b.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for name, bucket := range r.handlers {
		matches := 0
		for _, e := range bucket {
			if e.source == src {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		dropped += matches

		if matches == len(bucket) {
			delete(r.handlers, name)
			continue
		}
		next := make([]entry, 0, len(bucket)-matches)
		for _, e := range bucket {
			if e.source != src {
				next = append(next, e)
			}
		}
		r.handlers[name] = next
	}
	return dropped
}

// add files e under name, keeping the bucket ordered by priority
// (highest first) and by registration order within a tier. The bucket
// is rebuilt rather than sorted in place so snapshots held by an
// in-flight publish stay valid.
func (r *registry) add(name string, e entry) {
	r.mu.Lock()
	bucket := r.handlers[name]
	next := make([]entry, 0, len(bucket)+1)
	next = append(next, bucket...)
	next = append(next, e)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].priority > next[j].priority
	})
	r.handlers[name] = next
	r.mu.Unlock()

	r.obs.Subscribed(name)
}

// snapshot returns the current bucket for name. Buckets are immutable
// once published to the map, so the slice is safe to iterate without
// the lock.
func (r *registry) snapshot(name string) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Subscribe registers a blocking handler for E at the given priority.
// Registration always succeeds and cannot be undone for the life of
// the bus. E must implement Event with a value receiver.
func Subscribe[E Event](b *Bus, priority Priority, fn HandlerFunc[E]) {
	var zero E
	b.reg.add(zero.EventName(), entry{
		source:   b.source,
		priority: priority,
		blocking: true,
		invoke: func(ctx context.Context, ev any) (bool, error) {
			e, ok := ev.(*E)
			if !ok {
				return false, nil
			}
			return true, fn(ctx, e)
		},
	})
}

// SubscribeAsync registers a non-blocking handler for E at the given
// priority.
func SubscribeAsync[E Event](b *Bus, priority Priority, fn AsyncHandlerFunc[E]) {
	var zero E
	b.reg.add(zero.EventName(), entry{
		source:   b.source,
		priority: priority,
		blocking: false,
		invoke: func(ctx context.Context, ev any) (bool, error) {
			e, ok := ev.(E)
			if !ok {
				return false, nil
			}
			return true, fn(ctx, e)
		},
	})
}

// Publish dispatches ev to every handler registered for its type and
// returns the event once all of them have completed. Blocking handlers
// run first, strictly in order, against a mutable view; non-blocking
// handlers then run concurrently on value snapshots. Handler errors are
// logged and counted, never propagated: a failing plugin must not break
// the publisher. With no handlers registered the event is returned
// unchanged.
func Publish[E Event](ctx context.Context, b *Bus, ev E) E {
	name := ev.EventName()
	entries := b.reg.snapshot(name)
	if len(entries) == 0 {
		return ev
	}
	b.reg.obs.Published(name)

	for _, e := range entries {
		if !e.blocking {
			continue
		}
		matched, err := e.invoke(ctx, &ev)
		switch {
		case !matched:
			b.reg.obs.TypeMismatch(name)
		case err != nil:
			b.reg.obs.HandlerError(name, e.source)
			slog.Error("blocking event handler failed",
				"event", name,
				"plugin", e.source,
				"error", err)
		}
	}

	// Box the post-mutation event once; each matching handler's type
	// assertion hands it a fresh copy.
	var shared any = ev
	var wg sync.WaitGroup
	for _, e := range entries {
		if e.blocking {
			continue
		}
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			matched, err := e.invoke(ctx, shared)
			switch {
			case !matched:
				b.reg.obs.TypeMismatch(name)
			case err != nil:
				b.reg.obs.HandlerError(name, e.source)
				slog.Error("event handler failed",
					"event", name,
					"plugin", e.source,
					"error", err)
			}
		}(e)
	}
	wg.Wait()

	return ev
}
