// Package permission tracks the permission nodes granted to each
// plugin and answers runtime checks against them.
//
// Node matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "cinder.events.*" matches "cinder.events.subscribe" but NOT "cinder.events.admin.purge"
//   - "cinder.events.**" matches both
//   - "**" grants everything
package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	sdk "github.com/cindermc/cinder/pkg/plugin"
)

// BroadcastNode permits calling the host broadcast surface.
const BroadcastNode = "cinder.broadcast"

// DefaultNodes are granted to every plugin at load time. They cover
// the baseline SDK surface; anything beyond it needs an explicit grant.
func DefaultNodes() []string {
	return []string{
		"cinder.events.**",
		"cinder.config.**",
		BroadcastNode,
	}
}

// compiledNode pairs a grant pattern with its compiled glob.
type compiledNode struct {
	pattern string
	glob    glob.Glob
}

// Registry holds grants for all plugins. Safe for concurrent use; the
// zero value works without NewRegistry.
type Registry struct {
	grants map[string][]compiledNode
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[string][]compiledNode),
	}
}

// Grant replaces the named plugin's grants with nodes. All patterns are
// compiled before any state changes, so an invalid pattern leaves the
// previous grants intact.
func (r *Registry) Grant(plugin string, nodes []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}

	compiled := make([]compiledNode, len(nodes))
	for i, pattern := range nodes {
		if pattern == "" {
			return fmt.Errorf("node %d: empty permission pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("node %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledNode{pattern: pattern, glob: g}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grants == nil {
		r.grants = make(map[string][]compiledNode)
	}
	r.grants[plugin] = compiled
	return nil
}

// Revoke removes all grants for the named plugin. Safe for unknown
// plugins.
func (r *Registry) Revoke(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grants == nil {
		return
	}
	delete(r.grants, plugin)
}

// Allows reports whether the plugin holds a grant matching node.
// Unknown plugins and empty nodes are denied, never errors.
func (r *Registry) Allows(plugin, node string) bool {
	if node == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, grant := range r.grants[plugin] {
		if grant.glob.Match(node) {
			return true
		}
	}
	return false
}

// Nodes returns a copy of the plugin's grant patterns, nil when the
// plugin has none.
func (r *Registry) Nodes(plugin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grants, ok := r.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Set returns the named plugin's live view of the registry. Grants made
// after the view is created are visible through it.
func (r *Registry) Set(plugin string) *Set {
	return &Set{registry: r, plugin: plugin}
}

// Compile-time interface check.
var _ sdk.Permissions = (*Set)(nil)

// Set is one plugin's window onto the registry, handed to its Context.
type Set struct {
	registry *Registry
	plugin   string
}

// Allows reports whether the dot-separated node is granted.
func (s *Set) Allows(node string) bool {
	return s.registry.Allows(s.plugin, node)
}

// Nodes lists the granted node patterns.
func (s *Set) Nodes() []string {
	return s.registry.Nodes(s.plugin)
}
