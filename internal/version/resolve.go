// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package version

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Error codes for version resolution.
const (
	CodeResolution  = "VERSION_RESOLUTION"
	CodeInvalidSpec = "INVALID_VERSION_SPEC"
)

// ErrNoMatch creates the error returned when no advertised version satisfies spec.
func ErrNoMatch(spec Spec, available int) error {
	return oops.Code(CodeResolution).
		With("spec", spec.String()).
		With("kind", spec.Kind.String()).
		With("available", available).
		Errorf("no version matches %q", spec.String())
}

// Resolve returns the first entry of available satisfying spec.
// The returned string is the entry as advertised, never the user's input.
func Resolve(spec Spec, available []string) (string, error) {
	for _, v := range available {
		if spec.Matches(v) {
			return v, nil
		}
	}
	return "", ErrNoMatch(spec, len(available))
}

// Policy constrains upgrades of an already linked version.
type Policy struct {
	// Current is the version currently linked.
	Current string
	// AllowMajorDrift lets an upgrade leave the current major line.
	AllowMajorDrift bool
}

// UpgradeSpec returns the selector an upgrade of p.Current resolves with.
func (p Policy) UpgradeSpec() Spec {
	if p.AllowMajorDrift || p.Current == "" {
		return LatestSpec()
	}
	return MajorSpec(Line(p.Current))
}

// ResolveUpgrade resolves the upgrade target for p against available.
func ResolveUpgrade(p Policy, available []string) (string, error) {
	return Resolve(p.UpgradeSpec(), available)
}

// Major returns the first dot-separated component of v, without a leading "v".
func Major(v string) string {
	v = trimV(v)
	if sv, err := semver.NewVersion(v); err == nil {
		return strconv.FormatUint(sv.Major(), 10)
	}
	major, _, _ := strings.Cut(v, ".")
	return major
}

// Line returns the compatibility line of v: its major component, or
// "0.<minor>" for versions below 1.0 where every minor is breaking.
func Line(v string) string {
	v = trimV(v)
	if sv, err := semver.NewVersion(v); err == nil {
		if sv.Major() == 0 {
			return "0." + strconv.FormatUint(sv.Minor(), 10)
		}
		return strconv.FormatUint(sv.Major(), 10)
	}
	parts := strings.SplitN(v, ".", 3)
	if parts[0] == "0" && len(parts) > 1 {
		return "0." + parts[1]
	}
	return parts[0]
}

// onLine reports whether v belongs to line, where line is either a bare
// major ("22", "0") or a 0.x line ("0.4").
func onLine(v, line string) bool {
	line = trimV(line)
	if strings.Contains(line, ".") {
		return Line(v) == line
	}
	return Major(v) == line
}

// Compare orders two versions: semver precedence when both parse, otherwise
// lexical order. It returns -1, 0 or +1.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return strings.Compare(a, b)
}

// SortDescending sorts versions newest first. Only used for display of
// installed versions; advertised lists are never reordered.
func SortDescending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}
