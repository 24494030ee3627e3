// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

// State tracks where a plugin sits in its lifecycle.
//
// Transitions:
//
//	Unloaded -> Loading -> Active -> Unloading -> Removed
//	                                          \-> ResidentInactive
//
// ResidentInactive plugins refused eviction (their loader cannot
// release the artifact) but no longer receive events or hooks.
type State int

const (
	// StateUnloaded is the initial state before any loader has run.
	StateUnloaded State = iota
	// StateLoading means a loader has claimed the artifact and hooks
	// are running. Not externally observable under normal operation.
	StateLoading
	// StateActive means OnLoad succeeded and the plugin receives events.
	StateActive
	// StateUnloading means OnUnload hooks are in flight.
	StateUnloading
	// StateResidentInactive means the plugin is deactivated but its
	// code cannot be evicted from the process.
	StateResidentInactive
	// StateRemoved means the plugin is fully gone. Terminal.
	StateRemoved
)

var stateNames = map[State]string{
	StateUnloaded:         "unloaded",
	StateLoading:          "loading",
	StateActive:           "active",
	StateUnloading:        "unloading",
	StateResidentInactive: "resident-inactive",
	StateRemoved:          "removed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateRemoved
}
