// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package event

// Event is implemented by every type dispatched through the Bus.
//
// EventName must be a value-receiver method returning a constant,
// globally unique name for the type (by convention dot-separated,
// e.g. "plugin.loaded"). The name is the registry key handlers are
// filed under; the runtime type itself is what gates invocation.
type Event interface {
	EventName() string
}

// Cancellable is implemented by events whose default action can be
// suppressed by a blocking handler. Publishers decide what cancellation
// means for their event; the bus itself never inspects the flag.
type Cancellable interface {
	IsCancelled() bool
	SetCancelled(cancelled bool)
}

// Cancel is an embeddable Cancellable implementation.
type Cancel struct {
	cancelled bool
}

// IsCancelled reports whether a handler cancelled the event.
func (c Cancel) IsCancelled() bool { return c.cancelled }

// SetCancelled marks the event cancelled or clears the mark.
func (c *Cancel) SetCancelled(cancelled bool) { c.cancelled = cancelled }
