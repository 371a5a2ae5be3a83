// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package lua_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/cyrene-tools/cyrene/internal/plugin/lua"
)

func TestStateFactory_NewState_LoadsSafeLibraries(t *testing.T) {
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	for _, lib := range []string{"table", "string", "math"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %q not loaded", lib)
	}
}

func TestStateFactory_NewState_BlocksUnsafeLibraries(t *testing.T) {
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	for _, name := range []string{"os", "io", "debug", "package", "dofile", "loadfile", "loadstring", "load", "require"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(name).Type(), "%q should not be available", name)
	}
}

func TestStateFactory_NewState_CanceledContextStopsScript(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	L, err := pluginlua.NewStateFactory().NewState(ctx)
	require.NoError(t, err)
	defer L.Close()

	err = L.DoString(`while true do end`)
	assert.Error(t, err)
}

func TestCompileString(t *testing.T) {
	_, err := pluginlua.CompileString(`function list_versions() return {"1.0.0"} end`, "ok.lua")
	require.NoError(t, err)

	_, err = pluginlua.CompileString(`function broken( end`, "bad.lua")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}
