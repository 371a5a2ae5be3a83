// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package hostfunc provides the cyrene.* host API to Lua plugins.
//
// Functions that reach the network or the filesystem require a capability
// grant, and filesystem functions are confined to the directories of the
// hook call in progress.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/cyrene-tools/cyrene/internal/archive"
	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/plugin/capability"
)

// GlobalName is the Lua global holding the host API table.
const GlobalName = "cyrene"

// Transport performs network access on behalf of plugins.
type Transport interface {
	Download(ctx context.Context, url, dest string) (int64, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// Functions provides host functions to Lua plugins.
type Functions struct {
	enforcer  *capability.Enforcer
	transport Transport
	logger    *slog.Logger
}

// Option configures Functions.
type Option func(*Functions)

// WithTransport enables the network functions.
func WithTransport(t Transport) Option {
	return func(f *Functions) { f.transport = t }
}

// WithLogger sets the logger plugin messages are written to.
func WithLogger(l *slog.Logger) Option {
	return func(f *Functions) { f.logger = l }
}

// New creates host functions. Panics if enforcer is nil.
func New(enforcer *capability.Enforcer, opts ...Option) *Functions {
	if enforcer == nil {
		panic("hostfunc.New: enforcer cannot be nil")
	}
	f := &Functions{enforcer: enforcer, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register installs the cyrene table in a Lua state for one hook call.
func (f *Functions) Register(ls *lua.LState, pluginName string, call plugin.Call) {
	mod := ls.NewTable()
	roots := call.Roots()

	// No capability required.
	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginName)))
	ls.SetField(mod, "os", ls.NewFunction(constFn(runtime.GOOS)))
	ls.SetField(mod, "arch", ls.NewFunction(constFn(runtime.GOARCH)))
	ls.SetField(mod, "strip_prefix", ls.NewFunction(stripPrefixFn))
	ls.SetField(mod, "join", ls.NewFunction(joinFn))
	ls.SetField(mod, "json_decode", ls.NewFunction(jsonDecodeFn))

	ls.SetField(mod, "http_get", ls.NewFunction(f.wrap(pluginName, capability.NetRead, f.httpGetFn(pluginName))))
	ls.SetField(mod, "download", ls.NewFunction(f.wrap(pluginName, capability.NetDownload, f.downloadFn(pluginName, call.DownloadDir))))
	ls.SetField(mod, "extract", ls.NewFunction(f.wrap(pluginName, capability.FSExtract, extractFn(roots))))
	ls.SetField(mod, "set_exec", ls.NewFunction(f.wrap(pluginName, capability.FSWrite, setExecFn(roots))))

	ls.SetGlobal(GlobalName, mod)
}

func (f *Functions) wrap(pluginName, capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !f.enforcer.Check(pluginName, capName) {
			L.RaiseError("capability denied: %s requires %s", pluginName, capName)
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := f.logger.With("plugin", pluginName)
		ctx := stateContext(L)
		switch level {
		case "debug":
			logger.DebugContext(ctx, message)
		case "warn":
			logger.WarnContext(ctx, message)
		case "error":
			logger.ErrorContext(ctx, message)
		default:
			logger.InfoContext(ctx, message)
		}
		return 0
	}
}

func constFn(value string) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(value))
		return 1
	}
}

func stripPrefixFn(L *lua.LState) int {
	s := L.CheckString(1)
	prefix := L.CheckString(2)
	L.Push(lua.LString(strings.TrimPrefix(s, prefix)))
	return 1
}

func joinFn(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.CheckString(i))
	}
	L.Push(lua.LString(filepath.Join(parts...)))
	return 1
}

// jsonDecodeFn returns (value, nil) or (nil, error message).
func jsonDecodeFn(L *lua.LState) int {
	var v any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		return pushError(L, "invalid json: "+err.Error())
	}
	return pushSuccess(L, goToLua(L, v))
}

// httpGetFn returns (body, nil) or (nil, error message).
func (f *Functions) httpGetFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		rawURL := L.CheckString(1)
		if f.transport == nil {
			return pushError(L, "network access not configured")
		}
		body, err := f.transport.Get(stateContext(L), rawURL)
		if err != nil {
			f.logger.Debug("http_get failed", "plugin", pluginName, "url", rawURL, "error", err)
			return pushError(L, err.Error())
		}
		return pushSuccess(L, lua.LString(body))
	}
}

// downloadFn saves a URL into the call's download directory and returns the
// file path. Failures raise, aborting the hook.
func (f *Functions) downloadFn(pluginName, downloadDir string) lua.LGFunction {
	return func(L *lua.LState) int {
		rawURL := L.CheckString(1)
		name := L.OptString(2, "")

		if downloadDir == "" {
			L.RaiseError("download is only available during fetch")
			return 0
		}
		if f.transport == nil {
			L.RaiseError("network access not configured")
			return 0
		}
		if name == "" {
			name = fileNameFromURL(rawURL)
		}
		if name == "" || name != filepath.Base(name) || name == ".." {
			L.RaiseError("invalid download file name %q", name)
			return 0
		}

		dest := filepath.Join(downloadDir, name)
		n, err := f.transport.Download(stateContext(L), rawURL, dest)
		if err != nil {
			L.RaiseError("download %s: %s", rawURL, err.Error())
			return 0
		}
		f.logger.Debug("downloaded artifact", "plugin", pluginName, "url", rawURL, "bytes", n)
		L.Push(lua.LString(dest))
		return 1
	}
}

// extractFn unpacks (archive, dest[, strip]). Relative paths resolve against
// the first call root. Failures raise.
func extractFn(roots []string) lua.LGFunction {
	return func(L *lua.LState) int {
		src, ok := confine(L, roots, L.CheckString(1))
		if !ok {
			return 0
		}
		dest, ok := confine(L, roots, L.OptString(2, "."))
		if !ok {
			return 0
		}
		strip := L.OptInt(3, 0)
		if strip < 0 {
			L.ArgError(3, "strip must not be negative")
			return 0
		}
		if err := archive.Extract(stateContext(L), src, dest, strip); err != nil {
			L.RaiseError("extract %s: %s", filepath.Base(src), err.Error())
			return 0
		}
		return 0
	}
}

func setExecFn(roots []string) lua.LGFunction {
	return func(L *lua.LState) int {
		p, ok := confine(L, roots, L.CheckString(1))
		if !ok {
			return 0
		}
		info, err := os.Stat(p)
		if err != nil {
			L.RaiseError("set_exec: %s", err.Error())
			return 0
		}
		if err := os.Chmod(p, info.Mode().Perm()|0o111); err != nil { //nolint:gosec // making tool binaries executable is the point
			L.RaiseError("set_exec: %s", err.Error())
			return 0
		}
		return 0
	}
}

// confine resolves p against roots and raises unless it stays inside one of them.
func confine(L *lua.LState, roots []string, p string) (string, bool) {
	if len(roots) == 0 {
		L.RaiseError("filesystem access is not available in this hook")
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(roots[0], p)
	}
	p = filepath.Clean(p)
	for _, root := range roots {
		if archive.Within(root, p) {
			return p, true
		}
	}
	L.RaiseError("path %s is outside the directories of this hook", p)
	return "", false
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
