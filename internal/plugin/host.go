// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package plugin provides plugin discovery and the uniform adapter through
// which the rest of cyrene calls plugin hooks.
package plugin

import (
	"context"
	"sort"
)

// Hook names a plugin entry point. Hooks are global functions in the plugin script.
type Hook string

// Hooks understood by cyrene.
const (
	HookListVersions   Hook = "list_versions"
	HookFetch          Hook = "fetch"
	HookInstall        Hook = "install"
	HookUninstall      Hook = "uninstall"
	HookBinaries       Hook = "binaries"
	HookCurrentVersion Hook = "current_version"
)

// AllHooks lists every hook in a stable order.
var AllHooks = []Hook{
	HookListVersions,
	HookFetch,
	HookInstall,
	HookUninstall,
	HookBinaries,
	HookCurrentVersion,
}

// RequiredHooks must be implemented by every plugin.
var RequiredHooks = []Hook{HookListVersions, HookFetch, HookInstall}

// Capabilities is the set of hooks a plugin implements.
type Capabilities map[Hook]bool

// Has reports whether the hook is implemented.
func (c Capabilities) Has(h Hook) bool {
	return c[h]
}

// List returns the implemented hooks in AllHooks order.
func (c Capabilities) List() []Hook {
	hooks := make([]Hook, 0, len(c))
	for _, h := range AllHooks {
		if c[h] {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// Call carries the arguments of a hook invocation. Hooks see it as the
// ctx table; unset fields are omitted.
type Call struct {
	App         string
	Version     string
	Artifact    string
	Dest        string
	DownloadDir string
}

// Roots returns the directories filesystem host functions may touch during the call.
func (c Call) Roots() []string {
	var roots []string
	for _, dir := range []string{c.Dest, c.DownloadDir} {
		if dir != "" {
			roots = append(roots, dir)
		}
	}
	return roots
}

// Result is a hook's return value decoded from the script runtime.
type Result struct {
	// Value holds a scalar (string or number) return.
	Value string
	// List holds the array part of a table return, in order.
	List []string
	// Table holds the string-keyed part of a table return.
	Table map[string]string
}

// TableKeys returns the keys of Table sorted.
func (r Result) TableKeys() []string {
	keys := make([]string, 0, len(r.Table))
	for k := range r.Table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Host runs plugin scripts of one runtime type.
type Host interface {
	// Load reads and validates the script at path and reports which hooks it implements.
	Load(ctx context.Context, name, path string) (Capabilities, error)

	// Invoke calls a hook of a loaded plugin.
	Invoke(ctx context.Context, name string, hook Hook, call Call) (Result, error)

	// Plugins returns names of all loaded plugins.
	Plugins() []string

	// Close shuts down the host and all plugins.
	Close(ctx context.Context) error
}
