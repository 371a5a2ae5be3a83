// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package install

import (
	"github.com/samber/oops"

	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// Error codes for install and link failures.
const (
	CodeFetch           = "FETCH_ERROR"
	CodeInstall         = "INSTALL_ERROR"
	CodeUninstall       = "UNINSTALL_ERROR"
	CodeLink            = "LINK_ERROR"
	CodeLinkSelfProtect = "LINK_SELF_PROTECT"
	CodeNotInstalled    = "NOT_INSTALLED"
)

// ContextHookCode is the error context key holding the plugin's own code.
const ContextHookCode = "hook_code"

// ContextKind names the sub-kind of a link failure. The self-protection
// refusal carries KindSelfProtect under its own code.
const (
	ContextKind     = "kind"
	KindSelfProtect = "self_protect"
)

// IsLinkError reports whether err is a link failure. The self-protection
// refusal counts as one.
func IsLinkError(err error) bool {
	return errutil.HasCode(err, CodeLink) || errutil.HasCode(err, CodeLinkSelfProtect)
}

func selfProtectErr(app string) oops.OopsErrorBuilder {
	return oops.Code(CodeLinkSelfProtect).
		With(ContextKind, KindSelfProtect).
		With("app", app)
}

// recode turns a plugin failure into an error carrying code. The plugin's
// own code is kept in the hook_code context; oops reports the deepest code
// in a chain, so the cause is flattened into the message instead of wrapped.
func recode(code, app, version string, cause error) error {
	return oops.Code(code).
		In("install").
		With("app", app).
		With("version", version).
		With(ContextHookCode, errutil.Code(cause)).
		Errorf("%s@%s: %v", app, version, cause)
}

// ErrNotInstalled creates an error for a version missing from the apps dir.
func ErrNotInstalled(app, version string) error {
	return oops.Code(CodeNotInstalled).
		With("app", app).
		With("version", version).
		Hint("run: cyrene install " + app + "@" + version).
		Errorf("%s %s is not installed", app, version)
}

// ErrSelfProtect creates the refusal raised when an operation would replace
// or remove the running executable.
func ErrSelfProtect(app, path, operation string) error {
	return selfProtectErr(app).
		With("path", path).
		With("operation", operation).
		Hint("set install-dir to manage cyrene with cyrene").
		Errorf("refusing to %s %s: it is the running executable", operation, path)
}

// ErrLink wraps a filesystem failure while publishing links.
func ErrLink(app, version string, cause error) error {
	return oops.Code(CodeLink).
		In("install").
		With("app", app).
		With("version", version).
		Wrapf(cause, "link %s@%s", app, version)
}

func errForeignFile(app, path string) error {
	return oops.Code(CodeLink).
		With("app", app).
		With("path", path).
		Hint("remove or rename the file, then link again").
		Errorf("%s exists and is not managed by cyrene", path)
}
