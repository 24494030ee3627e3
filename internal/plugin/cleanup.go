// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
)

// cleanupTimeout bounds one release attempt, retries included.
const cleanupTimeout = 30 * time.Second

var (
	cleanupEntropy = ulid.Monotonic(rand.Reader, 0)
	cleanupIDLock  sync.Mutex
)

func newCleanupID() ulid.ULID {
	cleanupIDLock.Lock()
	defer cleanupIDLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), cleanupEntropy)
}

// CleanupHandle tracks one queued release action. Callers that need to
// know whether a rollback or eviction finished wait on Done and then
// read Err; callers that do not care drop the handle.
type CleanupHandle struct {
	id     ulid.ULID
	plugin string
	reason string
	done   chan struct{}
	err    error
}

// ID returns the task's unique identifier.
func (h *CleanupHandle) ID() string { return h.id.String() }

// Plugin returns the plugin the task belongs to.
func (h *CleanupHandle) Plugin() string { return h.plugin }

// Done is closed once the task has finished, successfully or not.
func (h *CleanupHandle) Done() <-chan struct{} { return h.done }

// Err returns the task's final error. Only valid after Done is closed.
func (h *CleanupHandle) Err() error { return h.err }

// cleanupTask pairs a handle with the work it tracks.
type cleanupTask struct {
	handle *CleanupHandle
	run    func(ctx context.Context) error
}

// cleaner serializes deferred release work on a single worker. Loader
// teardown after a failed load, and artifact eviction after unload,
// both go through here so the manager never blocks its own lock on
// them and no failure disappears silently.
type cleaner struct {
	tasks chan *cleanupTask
	log   *slog.Logger

	mu     sync.Mutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newCleaner(log *slog.Logger) *cleaner {
	c := &cleaner{
		tasks: make(chan *cleanupTask, 32),
		log:   log,
	}
	c.wg.Add(1)
	go c.work()
	return c
}

// enqueue queues run and returns its handle. Blocks if the queue is
// full rather than dropping work. A task enqueued against a closed
// cleaner runs inline so teardown still happens.
func (c *cleaner) enqueue(plugin, reason string, run func(ctx context.Context) error) *CleanupHandle {
	h := &CleanupHandle{
		id:     newCleanupID(),
		plugin: plugin,
		reason: reason,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		h.err = run(ctx)
		cancel()
		close(h.done)
		return h
	}
	cleanupDepth.Inc()
	c.tasks <- &cleanupTask{handle: h, run: run}
	c.mu.Unlock()
	return h
}

func (c *cleaner) work() {
	defer c.wg.Done()

	for task := range c.tasks {
		h := task.handle
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)

		backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := task.run(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		cancel()

		h.err = err
		close(h.done)
		cleanupDepth.Dec()

		if err != nil {
			c.log.Error("cleanup task failed",
				"task", h.id.String(),
				"plugin", h.plugin,
				"reason", h.reason,
				"error", err)
			continue
		}
		c.log.Debug("cleanup task finished",
			"task", h.id.String(),
			"plugin", h.plugin,
			"reason", h.reason)
	}
}

// close stops accepting tasks and waits for queued work to drain, or
// for ctx to expire.
func (c *cleaner) close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.tasks)
		c.mu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
