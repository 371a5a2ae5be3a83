// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin execution failures.
const (
	CodeNotFound        = "PLUGIN_NOT_FOUND"
	CodeScript          = "SCRIPT_ERROR"
	CodeUnsupportedHook = "UNSUPPORTED_HOOK"
)

// ErrNotFound creates an error for an app with no plugin script.
func ErrNotFound(name, dir string) error {
	return oops.Code(CodeNotFound).
		With("plugin", name).
		With("plugins_dir", dir).
		Hint("add a " + name + ".lua script to the plugins directory").
		Errorf("no plugin for %q", name)
}

// ErrUnsupportedHook creates an error for a hook the plugin does not implement.
func ErrUnsupportedHook(name string, hook Hook) error {
	return oops.Code(CodeUnsupportedHook).
		With("plugin", name).
		With("hook", string(hook)).
		Errorf("plugin %s does not implement %s", name, hook)
}

// ErrScript wraps a failure raised while running plugin code.
func ErrScript(name string, hook Hook, cause error) error {
	return oops.Code(CodeScript).
		In("plugin").
		With("plugin", name).
		With("hook", string(hook)).
		Wrapf(cause, "plugin %s: %s failed", name, hook)
}

// ErrBadResult creates an error for a hook that returned an unusable value.
func ErrBadResult(name string, hook Hook, reason string) error {
	return oops.Code(CodeScript).
		With("plugin", name).
		With("hook", string(hook)).
		Errorf("plugin %s: %s returned %s", name, hook, reason)
}
