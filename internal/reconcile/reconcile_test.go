// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package reconcile_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cyrene-tools/cyrene/internal/install"
	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/reconcile"
	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

type fakeCatalog map[string][]string

func (c fakeCatalog) Available(_ context.Context, app string, _ bool) ([]string, error) {
	versions, ok := c[app]
	if !ok {
		return nil, plugin.ErrNotFound(app, "/plugins")
	}
	return versions, nil
}

type fakeInstaller struct {
	mu         sync.Mutex
	installed  map[string]bool
	current    map[string]string
	installErr map[string]error
	installs   []string
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{
		installed:  map[string]bool{},
		current:    map[string]string{},
		installErr: map[string]error{},
	}
}

func (f *fakeInstaller) IsInstalled(app, v string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[app+"@"+v]
}

func (f *fakeInstaller) Install(_ context.Context, app, v string, _ ...install.InstallOption) (install.InstalledVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.installErr[app]; err != nil {
		return install.InstalledVersion{}, err
	}
	f.installed[app+"@"+v] = true
	f.installs = append(f.installs, app+"@"+v)
	return install.InstalledVersion{App: app, Version: v}, nil
}

func (f *fakeInstaller) Link(_ context.Context, app, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[app] = v
	return nil
}

func (f *fakeInstaller) Current(app string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[app], nil
}

func newFile(t *testing.T, entries ...lockfile.Entry) *lockfile.File {
	t.Helper()
	f := lockfile.New(filepath.Join(t.TempDir(), lockfile.FileName))
	for _, e := range entries {
		f.Set(e)
	}
	require.NoError(t, f.Save())
	return f
}

func TestLoad_InstallsAndLinks(t *testing.T) {
	defer goleak.VerifyNone(t)

	cat := fakeCatalog{
		"node": {"22.3.0", "22.2.0", "20.11.1"},
		"jq":   {"1.7.1", "1.6"},
	}
	inst := newFakeInstaller()
	f := newFile(t,
		lockfile.Entry{App: "node", Spec: version.MajorSpec("20")},
		lockfile.Entry{App: "jq", Spec: version.LatestSpec()},
	)

	report := reconcile.New(cat, inst, reconcile.WithWorkers(2)).Load(context.Background(), f)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 2)

	assert.Equal(t, "jq", report.Results[0].App)
	assert.Equal(t, "1.7.1", report.Results[0].Version)
	assert.Equal(t, "20.11.1", report.Results[1].Version)
	assert.True(t, report.Results[1].Installed)
	assert.True(t, report.Results[1].Linked)
	assert.Equal(t, "20.11.1", inst.current["node"])
	assert.False(t, f.Dirty())
}

func TestLoad_AlreadyInSyncDoesNothing(t *testing.T) {
	inst := newFakeInstaller()
	inst.installed["node@22.3.0"] = true
	inst.current["node"] = "22.3.0"
	f := newFile(t, lockfile.Entry{App: "node", Spec: version.MajorSpec("22")})

	report := reconcile.New(fakeCatalog{"node": {"22.3.0"}}, inst).Load(context.Background(), f)
	require.NoError(t, report.Err())
	assert.False(t, report.Results[0].Installed)
	assert.False(t, report.Results[0].Linked)
	assert.Empty(t, inst.installs)
}

func TestLoad_PrunesUnsatisfiableEntries(t *testing.T) {
	inst := newFakeInstaller()
	f := newFile(t,
		lockfile.Entry{App: "node", Spec: version.ExactSpec("14.0.0")},
		lockfile.Entry{App: "gone", Spec: version.LatestSpec()},
		lockfile.Entry{App: "jq", Spec: version.LatestSpec()},
	)
	cat := fakeCatalog{"node": {"22.3.0"}, "jq": {"1.7.1"}}

	report := reconcile.New(cat, inst).Load(context.Background(), f)

	require.NoError(t, report.Err(), "pruning is informational")
	pruned := report.Pruned()
	require.Len(t, pruned, 2)
	for _, res := range pruned {
		errutil.AssertErrorCode(t, res.Err, reconcile.CodeUnsatisfiable)
	}
	assert.True(t, f.Dirty())
	assert.Equal(t, 1, f.Len())
	_, ok := f.Get("jq")
	assert.True(t, ok)
}

func TestLoad_InstalledPinNoLongerListedIsPruned(t *testing.T) {
	inst := newFakeInstaller()
	inst.installed["node@18.2.0"] = true
	inst.current["node"] = "18.2.0"
	f := newFile(t, lockfile.Entry{App: "node", Spec: version.ExactSpec("18.2.0")})

	report := reconcile.New(fakeCatalog{"node": {"22.1.0", "20.19.5"}}, inst).Load(context.Background(), f)

	require.NoError(t, report.Err(), "pruning is informational")
	pruned := report.Pruned()
	require.Len(t, pruned, 1)
	assert.Equal(t, "node", pruned[0].App)
	errutil.AssertErrorCode(t, pruned[0].Err, reconcile.CodeUnsatisfiable)
	assert.True(t, f.Dirty())
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, inst.installs)
	assert.Equal(t, "18.2.0", inst.current["node"], "pruning leaves the install alone")
}

func TestLoad_InstallFailureKeepsEntry(t *testing.T) {
	inst := newFakeInstaller()
	inst.installErr["node"] = errors.New("mirror down")
	f := newFile(t,
		lockfile.Entry{App: "node", Spec: version.MajorSpec("22")},
		lockfile.Entry{App: "jq", Spec: version.LatestSpec()},
	)
	cat := fakeCatalog{"node": {"22.3.0"}, "jq": {"1.7.1"}}

	report := reconcile.New(cat, inst).Load(context.Background(), f)

	errutil.AssertErrorCode(t, report.Err(), reconcile.CodePartialFailure)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "node", report.Failed()[0].App)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, "1.7.1", inst.current["jq"], "sibling entries still run")
}

func TestRecord(t *testing.T) {
	drift := true
	caret := version.MustParseSpec("^1.2")
	tests := []struct {
		name     string
		existing *lockfile.Entry
		resolved string
		opts     reconcile.RecordOptions
		wantSpec string
		wantKind version.Kind
		wantDrft bool
	}{
		{name: "new entry pins exact", resolved: "22.3.0", wantSpec: "22.3.0", wantKind: version.Exact},
		{
			name:     "satisfied selector kept",
			existing: &lockfile.Entry{App: "node", Spec: version.MajorSpec("22")},
			resolved: "22.4.0", wantSpec: "22", wantKind: version.MajorOnly,
		},
		{
			name:     "unsatisfied selector pinned",
			existing: &lockfile.Entry{App: "node", Spec: version.MajorSpec("20")},
			resolved: "22.4.0", wantSpec: "22.4.0", wantKind: version.Exact,
		},
		{
			name:     "old exact pin replaced",
			existing: &lockfile.Entry{App: "node", Spec: version.ExactSpec("22.3.0"), AllowMajorDrift: true},
			resolved: "22.4.0", wantSpec: "22.4.0", wantKind: version.Exact, wantDrft: true,
		},
		{
			name:     "explicit spec wins",
			existing: &lockfile.Entry{App: "node", Spec: version.MajorSpec("20")},
			resolved: "1.2.5", opts: reconcile.RecordOptions{Spec: &caret, AllowMajorDrift: &drift},
			wantSpec: "^1.2", wantKind: version.Range, wantDrft: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := lockfile.New(filepath.Join(t.TempDir(), lockfile.FileName))
			if tt.existing != nil {
				f.Set(*tt.existing)
			}
			reconcile.Record(f, "node", tt.resolved, tt.opts)

			got, ok := f.Get("node")
			require.True(t, ok)
			assert.Equal(t, tt.wantSpec, got.Spec.String())
			assert.Equal(t, tt.wantKind, got.Spec.Kind)
			assert.Equal(t, tt.wantDrft, got.AllowMajorDrift)
		})
	}
}

func TestForget(t *testing.T) {
	f := newFile(t, lockfile.Entry{App: "node", Spec: version.LatestSpec()})
	assert.True(t, reconcile.Forget(f, "node"))
	assert.False(t, reconcile.Forget(f, "node"))
	assert.True(t, f.Dirty())
}

func TestNew_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { reconcile.New(nil, newFakeInstaller()) })
	assert.Panics(t, func() { reconcile.New(fakeCatalog{}, nil) })
}
