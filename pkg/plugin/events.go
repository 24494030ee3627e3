package plugin

import "github.com/cindermc/cinder/pkg/event"

// PluginLoadedEvent is published after a plugin becomes active.
type PluginLoadedEvent struct {
	Meta Metadata
}

func (PluginLoadedEvent) EventName() string { return "plugin.loaded" }

// PluginUnloadedEvent is published after a plugin is deactivated.
// Removed reports whether the artifact left the process entirely;
// false means the code stayed resident but inert.
type PluginUnloadedEvent struct {
	Meta    Metadata
	Removed bool
}

func (PluginUnloadedEvent) EventName() string { return "plugin.unloaded" }

// BroadcastEvent carries a host-wide message. Blocking handlers may
// rewrite Message or cancel delivery before the host sends it.
type BroadcastEvent struct {
	event.Cancel
	Message string
}

func (BroadcastEvent) EventName() string { return "server.broadcast" }
