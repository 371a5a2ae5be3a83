// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/plugin/hostfunc"
)

// Compile-time interface check.
var _ plugins.Host = (*Host)(nil)

// luaPlugin holds a compiled script.
type luaPlugin struct {
	path  string
	proto *lua.FunctionProto
	caps  plugins.Capabilities
}

// Host runs Lua plugins. Each hook call gets a fresh state, so calls on the
// same plugin may run concurrently.
type Host struct {
	factory   *StateFactory
	hostFuncs *hostfunc.Functions
	plugins   map[string]*luaPlugin
	mu        sync.RWMutex
	closed    bool
}

// NewHost creates a Lua plugin host without host functions.
func NewHost() *Host {
	return &Host{
		factory: NewStateFactory(),
		plugins: make(map[string]*luaPlugin),
	}
}

// NewHostWithFunctions creates a Lua plugin host exposing the cyrene.* API.
// Panics if hf is nil (consistent with hostfunc.New).
func NewHostWithFunctions(hf *hostfunc.Functions) *Host {
	if hf == nil {
		panic("lua.NewHostWithFunctions: hostFuncs cannot be nil")
	}
	h := NewHost()
	h.hostFuncs = hf
	return h
}

// Load compiles the script at path, runs its top level once in a throwaway
// state and records which hook functions it defines.
func (h *Host) Load(ctx context.Context, name, path string) (plugins.Capabilities, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.In("lua").With("plugin", name).With("operation", "load").New("host is closed")
	}

	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("lua").With("plugin", name).With("operation", "load").With("path", path).Hint("failed to read plugin script").Wrap(err)
	}

	proto, err := CompileString(string(code), filepath.Base(path))
	if err != nil {
		return nil, plugins.ErrScript(name, "load", err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").With("plugin", name).With("operation", "load").Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	h.registerFuncs(L, name, plugins.Call{App: name})
	if err := run(L, proto); err != nil {
		return nil, plugins.ErrScript(name, "load", err)
	}

	caps := plugins.Capabilities{}
	for _, hook := range plugins.AllHooks {
		if L.GetGlobal(string(hook)).Type() == lua.LTFunction {
			caps[hook] = true
		}
	}

	h.plugins[name] = &luaPlugin{path: path, proto: proto, caps: caps}
	return caps, nil
}

// Unload removes a plugin.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.plugins[name]; !ok {
		return oops.In("lua").With("plugin", name).With("operation", "unload").New("plugin not loaded")
	}
	delete(h.plugins, name)
	return nil
}

// Invoke runs one hook. The hook receives a ctx table built from call and
// its single return value is decoded into a Result.
func (h *Host) Invoke(ctx context.Context, name string, hook plugins.Hook, call plugins.Call) (plugins.Result, error) {
	h.mu.RLock()
	p, ok := h.plugins[name]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return plugins.Result{}, oops.In("lua").With("plugin", name).With("operation", string(hook)).New("host is closed")
	}
	if !ok {
		return plugins.Result{}, oops.Code(plugins.CodeNotFound).In("lua").With("plugin", name).Errorf("plugin %s not loaded", name)
	}
	if !p.caps.Has(hook) {
		return plugins.Result{}, plugins.ErrUnsupportedHook(name, hook)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return plugins.Result{}, oops.In("lua").With("plugin", name).With("operation", string(hook)).Hint("failed to create state").Wrap(err)
	}
	defer L.Close()

	h.registerFuncs(L, name, call)
	if err := run(L, p.proto); err != nil {
		return plugins.Result{}, plugins.ErrScript(name, hook, err)
	}

	fn := L.GetGlobal(string(hook))
	if fn.Type() != lua.LTFunction {
		return plugins.Result{}, plugins.ErrUnsupportedHook(name, hook)
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, buildCallTable(L, call)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return plugins.Result{}, plugins.ErrScript(name, hook, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	res, err := decodeResult(ret)
	if err != nil {
		return plugins.Result{}, plugins.ErrBadResult(name, hook, err.Error())
	}
	return res, nil
}

// Plugins returns names of loaded plugins, sorted.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the host.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.plugins = nil
	return nil
}

func (h *Host) registerFuncs(L *lua.LState, name string, call plugins.Call) {
	if h.hostFuncs != nil {
		h.hostFuncs.Register(L, name, call)
	}
}

// buildCallTable creates the ctx table handed to every hook.
func buildCallTable(L *lua.LState, call plugins.Call) *lua.LTable {
	t := L.NewTable()
	set := func(key, value string) {
		if value != "" {
			L.SetField(t, key, lua.LString(value))
		}
	}
	set("app", call.App)
	set("version", call.Version)
	set("artifact", call.Artifact)
	set("dest", call.Dest)
	set("download_dir", call.DownloadDir)
	set("os", runtime.GOOS)
	set("arch", runtime.GOARCH)
	return t
}

// decodeResult converts a hook's return value. Tables contribute their
// array part to List and their string keys to Table.
func decodeResult(v lua.LValue) (plugins.Result, error) {
	switch val := v.(type) {
	case *lua.LNilType, lua.LBool:
		return plugins.Result{}, nil
	case lua.LString:
		return plugins.Result{Value: string(val)}, nil
	case lua.LNumber:
		return plugins.Result{Value: val.String()}, nil
	case *lua.LTable:
		var res plugins.Result
		n := val.Len()
		if n > 0 {
			res.List = make([]string, 0, n)
		}
		for i := 1; i <= n; i++ {
			item, err := scalar(val.RawGetInt(i))
			if err != nil {
				return plugins.Result{}, err
			}
			res.List = append(res.List, item)
		}
		var decodeErr error
		val.ForEach(func(k, item lua.LValue) {
			key, ok := k.(lua.LString)
			if !ok || decodeErr != nil {
				return
			}
			s, err := scalar(item)
			if err != nil {
				decodeErr = err
				return
			}
			if res.Table == nil {
				res.Table = make(map[string]string)
			}
			res.Table[string(key)] = s
		})
		if decodeErr != nil {
			return plugins.Result{}, decodeErr
		}
		if res.List == nil && res.Table == nil {
			res.List = []string{}
		}
		return res, nil
	default:
		return plugins.Result{}, errors.New("a " + v.Type().String() + " value")
	}
}

func scalar(v lua.LValue) (string, error) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		return val.String(), nil
	default:
		return "", errors.New("a table containing a " + v.Type().String())
	}
}
