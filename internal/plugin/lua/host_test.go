// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package lua_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/plugin/capability"
	"github.com/cyrene-tools/cyrene/internal/plugin/hostfunc"
	pluginlua "github.com/cyrene-tools/cyrene/internal/plugin/lua"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// fakeTransport serves canned bodies keyed by URL.
type fakeTransport struct {
	mu     sync.Mutex
	bodies map[string][]byte
	urls   []string
}

func (f *fakeTransport) Download(_ context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	body, ok := f.bodies[url]
	if !ok {
		return 0, errors.New("404 Not Found")
	}
	if err := os.WriteFile(dest, body, 0o600); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func (f *fakeTransport) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return body, nil
}

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".lua")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// closeHost closes the host and fails the test if an error occurs.
func closeHost(t *testing.T, host *pluginlua.Host) {
	t.Helper()
	require.NoError(t, host.Close(context.Background()))
}

func newHost(t *testing.T, grants map[string][]string, transport hostfunc.Transport) *pluginlua.Host {
	t.Helper()
	enforcer := capability.NewEnforcer()
	require.NoError(t, enforcer.Configure(grants))
	opts := []hostfunc.Option{}
	if transport != nil {
		opts = append(opts, hostfunc.WithTransport(transport))
	}
	host := pluginlua.NewHostWithFunctions(hostfunc.New(enforcer, opts...))
	t.Cleanup(func() { closeHost(t, host) })
	return host
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

const nodeScript = `
local base = "https://nodejs.example/dist"

function list_versions()
  local body, err = cyrene.http_get(base .. "/index.json")
  if err then error(err) end
  local index = cyrene.json_decode(body)
  local out = {}
  for _, rel in ipairs(index) do
    table.insert(out, cyrene.strip_prefix(rel.version, "v"))
  end
  return out
end

function fetch(ctx)
  return cyrene.download(base .. "/v" .. ctx.version .. "/node-v" .. ctx.version .. ".tar.gz")
end

function install(ctx)
  cyrene.log("info", "installing node " .. ctx.version)
  cyrene.extract(ctx.artifact, ctx.dest, 1)
  cyrene.set_exec(cyrene.join(ctx.dest, "bin", "node"))
end

function binaries(ctx)
  return { node = "bin/node" }
end
`

func TestHost_LoadReportsCapabilities(t *testing.T) {
	host := newHost(t, map[string][]string{"*": {"**"}}, nil)
	path := writeScript(t, t.TempDir(), "node", nodeScript)

	caps, err := host.Load(context.Background(), "node", path)
	require.NoError(t, err)

	assert.Equal(t, []plugin.Hook{plugin.HookListVersions, plugin.HookFetch, plugin.HookInstall, plugin.HookBinaries}, caps.List())
	assert.Equal(t, []string{"node"}, host.Plugins())
}

func TestHost_LoadSyntaxError(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	path := writeScript(t, t.TempDir(), "broken", `function list_versions( return end`)

	_, err := host.Load(context.Background(), "broken", path)
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
}

func TestHost_LoadTopLevelError(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	path := writeScript(t, t.TempDir(), "boom", `error("refusing to load")`)

	_, err := host.Load(context.Background(), "boom", path)
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.Contains(t, err.Error(), "refusing to load")
}

func TestHost_LoadAfterClose(t *testing.T) {
	host := pluginlua.NewHost()
	require.NoError(t, host.Close(context.Background()))
	_, err := host.Load(context.Background(), "x", writeScript(t, t.TempDir(), "x", ""))
	assert.Error(t, err)
}

func TestHost_FullInstallFlow(t *testing.T) {
	transport := &fakeTransport{bodies: map[string][]byte{
		"https://nodejs.example/dist/index.json":                       []byte(`[{"version":"v22.5.0"},{"version":"v20.19.5"}]`),
		"https://nodejs.example/dist/v22.5.0/node-v22.5.0.tar.gz": tarGz(t, map[string]string{"node-v22.5.0/bin/node": "#!/bin/sh\n"}),
	}}
	host := newHost(t, map[string][]string{"*": {"**"}}, transport)
	_, err := host.Load(context.Background(), "node", writeScript(t, t.TempDir(), "node", nodeScript))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := host.Invoke(ctx, "node", plugin.HookListVersions, plugin.Call{App: "node"})
	require.NoError(t, err)
	assert.Equal(t, []string{"22.5.0", "20.19.5"}, res.List)

	dl := t.TempDir()
	res, err = host.Invoke(ctx, "node", plugin.HookFetch, plugin.Call{App: "node", Version: "22.5.0", DownloadDir: dl})
	require.NoError(t, err)
	artifact := res.Value
	assert.Equal(t, filepath.Join(dl, "node-v22.5.0.tar.gz"), artifact)

	dest := t.TempDir()
	_, err = host.Invoke(ctx, "node", plugin.HookInstall, plugin.Call{App: "node", Version: "22.5.0", Artifact: artifact, Dest: dest, DownloadDir: dl})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "bin", "node"))

	res, err = host.Invoke(ctx, "node", plugin.HookBinaries, plugin.Call{App: "node", Version: "22.5.0", Dest: dest})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"node": "bin/node"}, res.Table)
}

func TestHost_ScriptErrorCarriesMessage(t *testing.T) {
	host := newHost(t, map[string][]string{"*": {"**"}}, &fakeTransport{})
	_, err := host.Load(context.Background(), "node", writeScript(t, t.TempDir(), "node", nodeScript))
	require.NoError(t, err)

	_, err = host.Invoke(context.Background(), "node", plugin.HookFetch, plugin.Call{App: "node", Version: "9.9.9", DownloadDir: t.TempDir()})
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.Contains(t, err.Error(), "404 Not Found")
}

func TestHost_CapabilityDenied(t *testing.T) {
	transport := &fakeTransport{bodies: map[string][]byte{"https://x/index": []byte("[]")}}
	host := newHost(t, map[string][]string{"node": {"fs.*"}}, transport)
	script := `function list_versions() return {cyrene.http_get("https://x/index")} end`
	_, err := host.Load(context.Background(), "node", writeScript(t, t.TempDir(), "node", script))
	require.NoError(t, err)

	_, err = host.Invoke(context.Background(), "node", plugin.HookListVersions, plugin.Call{App: "node"})
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.Contains(t, err.Error(), "capability denied")
	assert.Empty(t, transport.urls)
}

func TestHost_FilesystemConfinedToCallRoots(t *testing.T) {
	host := newHost(t, map[string][]string{"*": {"**"}}, nil)
	outside := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	script := `function install(ctx) cyrene.set_exec("` + filepath.ToSlash(outside) + `") end`
	_, err := host.Load(context.Background(), "evil", writeScript(t, t.TempDir(), "evil", script))
	require.NoError(t, err)

	_, err = host.Invoke(context.Background(), "evil", plugin.HookInstall, plugin.Call{App: "evil", Dest: t.TempDir()})
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.Contains(t, err.Error(), "outside the directories")
}

func TestHost_DownloadOutsideFetchRaises(t *testing.T) {
	host := newHost(t, map[string][]string{"*": {"**"}}, &fakeTransport{})
	script := `function install(ctx) cyrene.download("https://x/a.tgz") end`
	_, err := host.Load(context.Background(), "p", writeScript(t, t.TempDir(), "p", script))
	require.NoError(t, err)

	_, err = host.Invoke(context.Background(), "p", plugin.HookInstall, plugin.Call{App: "p", Dest: t.TempDir()})
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.Contains(t, err.Error(), "only available during fetch")
}

func TestHost_UnsupportedHook(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	_, err := host.Load(context.Background(), "min", writeScript(t, t.TempDir(), "min", `function list_versions() return {} end`))
	require.NoError(t, err)

	_, err = host.Invoke(context.Background(), "min", plugin.HookUninstall, plugin.Call{App: "min"})
	errutil.AssertErrorCode(t, err, plugin.CodeUnsupportedHook)
}

func TestHost_InvokeUnknownPlugin(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)

	_, err := host.Invoke(context.Background(), "ghost", plugin.HookFetch, plugin.Call{})
	errutil.AssertErrorCode(t, err, plugin.CodeNotFound)
}

func TestHost_CancellationInterruptsHook(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	_, err := host.Load(context.Background(), "spin", writeScript(t, t.TempDir(), "spin", `function fetch(ctx) while true do end end`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = host.Invoke(ctx, "spin", plugin.HookFetch, plugin.Call{App: "spin"})
	errutil.AssertErrorCode(t, err, plugin.CodeScript)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHost_StateIsFreshPerCall(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	script := `
counter = 0
function current_version()
  counter = counter + 1
  return tostring(counter)
end`
	_, err := host.Load(context.Background(), "c", writeScript(t, t.TempDir(), "c", script))
	require.NoError(t, err)

	for range 3 {
		res, err := host.Invoke(context.Background(), "c", plugin.HookCurrentVersion, plugin.Call{App: "c"})
		require.NoError(t, err)
		assert.Equal(t, "1", res.Value)
	}
}

func TestHost_CallTable(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	script := `function binaries(ctx) return { app = ctx.app, version = ctx.version, dest = ctx.dest, os = ctx.os } end`
	_, err := host.Load(context.Background(), "t", writeScript(t, t.TempDir(), "t", script))
	require.NoError(t, err)

	res, err := host.Invoke(context.Background(), "t", plugin.HookBinaries, plugin.Call{App: "t", Version: "1.0.0", Dest: "/apps/t/1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "t", res.Table["app"])
	assert.Equal(t, "1.0.0", res.Table["version"])
	assert.Equal(t, "/apps/t/1.0.0", res.Table["dest"])
	assert.NotEmpty(t, res.Table["os"])
}

func TestHost_Unload(t *testing.T) {
	host := pluginlua.NewHost()
	defer closeHost(t, host)
	_, err := host.Load(context.Background(), "u", writeScript(t, t.TempDir(), "u", ``))
	require.NoError(t, err)

	require.NoError(t, host.Unload(context.Background(), "u"))
	assert.Empty(t, host.Plugins())
	assert.Error(t, host.Unload(context.Background(), "u"))
}

func TestNewHostWithFunctions_NilPanics(t *testing.T) {
	assert.Panics(t, func() { pluginlua.NewHostWithFunctions(nil) })
}
