// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

var nodeVersions = []string{"22.5.0", "22.1.0", "20.19.5"}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in    string
		kind  version.Kind
		value string
	}{
		{"", version.Latest, ""},
		{"latest", version.Latest, ""},
		{"LATEST", version.Latest, ""},
		{"22", version.MajorOnly, "22"},
		{"v22", version.MajorOnly, "22"},
		{"0.4", version.MajorOnly, "0.4"},
		{"20.19.5", version.Exact, "20.19.5"},
		{"v1.2.3-rc.1", version.Exact, "v1.2.3-rc.1"},
		{"1.2", version.Exact, "1.2"},
		{"^1.2", version.Range, "^1.2"},
		{">=1.20 <1.22", version.Range, ">=1.20 <1.22"},
		{"1.x", version.Range, "1.x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := version.ParseSpec(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, spec.Kind)
			assert.Equal(t, tt.value, spec.Value)
		})
	}
}

func TestParseSpec_InvalidRange(t *testing.T) {
	_, err := version.ParseSpec(">=banana")
	errutil.AssertErrorCode(t, err, version.CodeInvalidSpec)
}

func TestSpecString_RoundTrips(t *testing.T) {
	for _, in := range []string{"latest", "22", "0.4", "20.19.5", "^1.2"} {
		spec := version.MustParseSpec(in)
		again := version.MustParseSpec(spec.String())
		assert.Equal(t, spec.Kind, again.Kind, in)
		assert.Equal(t, spec.Value, again.Value, in)
	}
}

func TestResolve_Exact(t *testing.T) {
	got, err := version.Resolve(version.ExactSpec("20.19.5"), nodeVersions)
	require.NoError(t, err)
	assert.Equal(t, "20.19.5", got)
}

func TestResolve_ExactIgnoresLeadingV(t *testing.T) {
	got, err := version.Resolve(version.ExactSpec("v1.2.0"), []string{"1.3.0", "1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got)
}

func TestResolve_ExactAbsentIsNoMatch(t *testing.T) {
	_, err := version.Resolve(version.ExactSpec("18.0.0"), nodeVersions)
	errutil.AssertErrorCode(t, err, version.CodeResolution)
}

func TestResolve_MajorOnlyTakesFirstListed(t *testing.T) {
	got, err := version.Resolve(version.MajorSpec("22"), nodeVersions)
	require.NoError(t, err)
	assert.Equal(t, "22.5.0", got)
}

func TestResolve_MajorOnlyDoesNotResort(t *testing.T) {
	got, err := version.Resolve(version.MajorSpec("22"), []string{"22.1.0", "22.5.0"})
	require.NoError(t, err)
	assert.Equal(t, "22.1.0", got, "list order is the plugin's preference")
}

func TestResolve_MajorOnlyZeroLines(t *testing.T) {
	available := []string{"0.13.0", "0.12.1", "0.12.0"}

	got, err := version.Resolve(version.MajorSpec("0.12"), available)
	require.NoError(t, err)
	assert.Equal(t, "0.12.1", got)

	got, err = version.Resolve(version.MajorSpec("0"), available)
	require.NoError(t, err)
	assert.Equal(t, "0.13.0", got)
}

func TestResolve_Latest(t *testing.T) {
	got, err := version.Resolve(version.LatestSpec(), nodeVersions)
	require.NoError(t, err)
	assert.Equal(t, "22.5.0", got)
}

func TestResolve_EmptyListIsNoMatch(t *testing.T) {
	_, err := version.Resolve(version.LatestSpec(), nil)
	errutil.AssertErrorCode(t, err, version.CodeResolution)
}

func TestResolve_Range(t *testing.T) {
	spec := version.MustParseSpec(">=20 <22")
	got, err := version.Resolve(spec, append([]string{"nightly"}, nodeVersions...))
	require.NoError(t, err)
	assert.Equal(t, "20.19.5", got)
}

func TestPolicy_UpgradeStaysInMajor(t *testing.T) {
	available := []string{"23.0.0", "22.5.0", "22.1.0"}

	got, err := version.ResolveUpgrade(version.Policy{Current: "22.1.0"}, available)
	require.NoError(t, err)
	assert.Equal(t, "22.5.0", got)
}

func TestPolicy_UpgradeWithDriftTakesLatest(t *testing.T) {
	available := []string{"23.0.0", "22.5.0", "22.1.0"}

	got, err := version.ResolveUpgrade(version.Policy{Current: "22.1.0", AllowMajorDrift: true}, available)
	require.NoError(t, err)
	assert.Equal(t, "23.0.0", got)
}

func TestPolicy_UpgradeNeverCrossesMajor(t *testing.T) {
	available := []string{"23.0.0", "21.0.0"}

	_, err := version.ResolveUpgrade(version.Policy{Current: "22.1.0"}, available)
	errutil.AssertErrorCode(t, err, version.CodeResolution)
}

func TestPolicy_ZeroLineUpgrade(t *testing.T) {
	available := []string{"0.13.0", "0.12.3", "0.12.1"}

	got, err := version.ResolveUpgrade(version.Policy{Current: "0.12.1"}, available)
	require.NoError(t, err)
	assert.Equal(t, "0.12.3", got)
}

func TestLine(t *testing.T) {
	assert.Equal(t, "22", version.Line("22.5.0"))
	assert.Equal(t, "22", version.Line("v22.5.0"))
	assert.Equal(t, "0.4", version.Line("0.4.2"))
	assert.Equal(t, "2024", version.Line("2024.01-custom.build"))
}

func TestSortDescending(t *testing.T) {
	vs := []string{"20.19.5", "22.10.0", "22.5.0"}
	version.SortDescending(vs)
	assert.Equal(t, []string{"22.10.0", "22.5.0", "20.19.5"}, vs)
}
