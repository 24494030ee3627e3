package plugin

import "context"

// Host is the opaque reference to the running server handed to plugin
// contexts. Plugins consume it as-is; the runtime does not specify the
// host beyond this surface.
type Host interface {
	// Name identifies the host application.
	Name() string
	// Version is the host build version.
	Version() string
	// Broadcast delivers a message to everyone connected to the host.
	// Delivery is subject to blocking handlers of BroadcastEvent, which
	// may rewrite or cancel it.
	Broadcast(ctx context.Context, message string) error
}
