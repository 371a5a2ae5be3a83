// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package lua_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrene-tools/cyrene/internal/plugin"
)

// bundledDir holds the plugins shipped in the repository.
var bundledDir = filepath.Join("..", "..", "..", "plugins")

func TestBundledPlugins_Load(t *testing.T) {
	scripts, err := filepath.Glob(filepath.Join(bundledDir, "*.lua"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts)

	host := newHost(t, map[string][]string{"*": {"**"}}, nil)
	for _, path := range scripts {
		name := filepath.Base(path[:len(path)-len(".lua")])
		t.Run(name, func(t *testing.T) {
			caps, err := host.Load(context.Background(), name, path)
			require.NoError(t, err)
			assert.True(t, caps.Has(plugin.HookListVersions))
			assert.True(t, caps.Has(plugin.HookFetch))
			assert.True(t, caps.Has(plugin.HookInstall))
		})
	}
}

func TestBundledPlugins_ListVersions(t *testing.T) {
	transport := &fakeTransport{bodies: map[string][]byte{
		"https://nodejs.org/dist/index.json": []byte(`[{"version":"v22.3.0"},{"version":"v20.11.1"}]`),
		"https://api.github.com/repos/BurntSushi/ripgrep/releases?per_page=100": []byte(
			`[{"tag_name":"14.1.1","prerelease":false},{"tag_name":"14.2.0-rc1","prerelease":true},{"tag_name":"13.0.0","prerelease":false}]`),
	}}
	host := newHost(t, map[string][]string{"*": {"net.read"}}, transport)
	ctx := context.Background()

	tests := []struct {
		name string
		want []string
	}{
		{name: "node", want: []string{"22.3.0", "20.11.1"}},
		{name: "ripgrep", want: []string{"14.1.1", "13.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := host.Load(ctx, tt.name, filepath.Join(bundledDir, tt.name+".lua"))
			require.NoError(t, err)
			res, err := host.Invoke(ctx, tt.name, plugin.HookListVersions, plugin.Call{App: tt.name})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.List)
		})
	}
}

func TestBundledPlugins_NodeFetchURL(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("node plugin targets linux and darwin")
	}
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x64"
	}
	url := "https://nodejs.org/dist/v22.3.0/node-v22.3.0-" + runtime.GOOS + "-" + arch + ".tar.gz"
	transport := &fakeTransport{bodies: map[string][]byte{
		url: tarGz(t, map[string]string{"node-v22.3.0/bin/node": "#!/bin/sh\n"}),
	}}
	host := newHost(t, map[string][]string{"*": {"**"}}, transport)
	ctx := context.Background()

	_, err := host.Load(ctx, "node", filepath.Join(bundledDir, "node.lua"))
	require.NoError(t, err)
	downloads := t.TempDir()
	res, err := host.Invoke(ctx, "node", plugin.HookFetch, plugin.Call{App: "node", Version: "22.3.0", DownloadDir: downloads})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(downloads, "node-v22.3.0-"+runtime.GOOS+"-"+arch+".tar.gz"), res.Value)
}
