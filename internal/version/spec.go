// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package version parses version selectors and resolves them against the
// version lists advertised by plugins.
//
// Resolution never reorders the advertised list: the first entry is the
// plugin's preferred version, and every selector picks the first entry
// that satisfies it.
package version

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Kind identifies how a Spec selects a version.
type Kind int

// Spec kinds.
const (
	// Latest selects the first advertised version.
	Latest Kind = iota
	// Exact selects one specific version.
	Exact
	// MajorOnly selects the first advertised version on a major line.
	MajorOnly
	// Range selects the first advertised version satisfying a semver constraint.
	Range
)

func (k Kind) String() string {
	switch k {
	case Latest:
		return "latest"
	case Exact:
		return "exact"
	case MajorOnly:
		return "major"
	case Range:
		return "range"
	default:
		return "unknown"
	}
}

// Spec is a user-supplied version selector.
type Spec struct {
	Kind  Kind
	Value string

	constraint *semver.Constraints
}

// LatestSpec returns the Latest selector.
func LatestSpec() Spec { return Spec{Kind: Latest} }

// ExactSpec returns a selector for exactly v.
func ExactSpec(v string) Spec { return Spec{Kind: Exact, Value: v} }

// MajorSpec returns a selector for the major line m ("22", or "0.4" for 0.x lines).
func MajorSpec(m string) Spec { return Spec{Kind: MajorOnly, Value: trimV(m)} }

var (
	majorPattern     = regexp.MustCompile(`^v?\d+$`)
	zeroLinePattern  = regexp.MustCompile(`^v?0\.\d+$`)
	rangeOperatorSet = "^~<>=*,| "
)

// ParseSpec parses a selector string.
//
//	""  or "latest"        -> Latest
//	"22", "v22", "0.4"     -> MajorOnly
//	"^1.2", ">=1.20 <1.22" -> Range
//	anything else          -> Exact
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "latest"):
		return LatestSpec(), nil
	case majorPattern.MatchString(s), zeroLinePattern.MatchString(s):
		return MajorSpec(s), nil
	case isRange(s):
		c, err := semver.NewConstraint(s)
		if err != nil {
			return Spec{}, oops.Code(CodeInvalidSpec).
				With("spec", s).
				Errorf("invalid version range %q: %s", s, err.Error())
		}
		return Spec{Kind: Range, Value: s, constraint: c}, nil
	default:
		return ExactSpec(s), nil
	}
}

// MustParseSpec is ParseSpec for literals known to be valid. Panics on error.
func MustParseSpec(s string) Spec {
	spec, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

func isRange(s string) bool {
	if strings.ContainsAny(s, rangeOperatorSet) {
		return true
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "x" || seg == "X" {
			return true
		}
	}
	return false
}

// String renders the selector in the form ParseSpec accepts.
func (s Spec) String() string {
	if s.Kind == Latest {
		return "latest"
	}
	return s.Value
}

// IsZero reports whether s is the zero Spec, which behaves as Latest.
func (s Spec) IsZero() bool {
	return s.Kind == Latest && s.Value == ""
}

// Matches reports whether version v satisfies the selector.
func (s Spec) Matches(v string) bool {
	switch s.Kind {
	case Latest:
		return true
	case Exact:
		return trimV(v) == trimV(s.Value)
	case MajorOnly:
		return onLine(v, s.Value)
	case Range:
		c := s.constraint
		if c == nil {
			var err error
			if c, err = semver.NewConstraint(s.Value); err != nil {
				return false
			}
		}
		sv, err := semver.NewVersion(v)
		if err != nil {
			return false
		}
		return c.Check(sv)
	default:
		return false
	}
}

func trimV(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
