// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package capability decides which host functions a plugin may call.
//
// Capabilities are dotted names such as "net.download" or "fs.extract".
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "net.*" matches "net.read" and "net.download"
//   - "fs.extract" matches only itself
//   - "**" matches any capability
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

// Capabilities guarding host functions.
const (
	NetRead     = "net.read"
	NetDownload = "net.download"
	FSExtract   = "fs.extract"
	FSWrite     = "fs.write"
)

// compiledGrant holds a pattern and its compiled glob for efficient matching.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime.
//
// Plugins without explicit grants fall back to the default grants. Enforcer
// is safe for concurrent use; the zero value denies everything.
type Enforcer struct {
	grants   map[string][]compiledGrant
	defaults []compiledGrant
	mu       sync.RWMutex
}

// NewEnforcer creates a capability enforcer with no grants.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("capability %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// SetGrants replaces the grants of one plugin. On error nothing changes.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// SetDefaults replaces the grants applied to plugins without their own.
func (e *Enforcer) SetDefaults(patterns []string) error {
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = compiled
	return nil
}

// Configure applies a grant table in one step. The "*" key, when present,
// sets the defaults.
func (e *Enforcer) Configure(table map[string][]string) error {
	for plugin, patterns := range table {
		var err error
		if plugin == "*" {
			err = e.SetDefaults(patterns)
		} else {
			err = e.SetGrants(plugin, patterns)
		}
		if err != nil {
			return fmt.Errorf("grants for %s: %w", plugin, err)
		}
	}
	return nil
}

// RemoveGrants drops a plugin's own grants; it falls back to the defaults.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// GetGrants returns the patterns in effect for a plugin.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants := e.effective(plugin)
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// ListPlugins returns plugins with explicit grants, sorted.
func (e *Enforcer) ListPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plugins := make([]string, 0, len(e.grants))
	for name := range e.grants {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	return plugins
}

// Check returns true if the plugin holds the requested capability.
// Empty capabilities are always denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.effective(plugin) {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// effective must be called with mu held.
func (e *Enforcer) effective(plugin string) []compiledGrant {
	if grants, ok := e.grants[plugin]; ok {
		return grants
	}
	return e.defaults
}
