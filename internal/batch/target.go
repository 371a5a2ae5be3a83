// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package batch

import (
	"strings"

	"github.com/samber/oops"

	"github.com/cyrene-tools/cyrene/internal/version"
)

// CodeInvalidTarget marks command-line targets that cannot be parsed.
const CodeInvalidTarget = "INVALID_TARGET"

// CodeNotLinked marks an upgrade of an installed app with no active version
// and nothing saying which version it should run.
const CodeNotLinked = "NOT_LINKED"

// Target is one app named on the command line, optionally with a selector.
type Target struct {
	App     string
	Spec    version.Spec
	HasSpec bool
}

// String renders the target as it is written on the command line.
func (t Target) String() string {
	if !t.HasSpec {
		return t.App
	}
	return t.App + "@" + t.Spec.String()
}

// ParseTarget parses "name" or "name@spec".
func ParseTarget(arg string) (Target, error) {
	name, specText, hasSpec := strings.Cut(strings.TrimSpace(arg), "@")
	if name == "" || strings.ContainsAny(name, `/\: `) {
		return Target{}, oops.Code(CodeInvalidTarget).
			With("target", arg).
			Hint("targets look like node or node@22").
			Errorf("invalid target %q", arg)
	}
	t := Target{App: name}
	if !hasSpec {
		return t, nil
	}
	if strings.TrimSpace(specText) == "" {
		return Target{}, oops.Code(CodeInvalidTarget).
			With("target", arg).
			Errorf("target %q has an empty version after @", arg)
	}
	spec, err := version.ParseSpec(specText)
	if err != nil {
		return Target{}, oops.Code(CodeInvalidTarget).With("target", arg).Wrap(err)
	}
	t.Spec = spec
	t.HasSpec = true
	return t, nil
}

// ParseTargets parses command-line targets. An app may appear only once.
func ParseTargets(args []string) ([]Target, error) {
	targets := make([]Target, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		t, err := ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		if seen[t.App] {
			return nil, oops.Code(CodeInvalidTarget).
				With("app", t.App).
				Errorf("%s is named more than once", t.App)
		}
		seen[t.App] = true
		targets = append(targets, t)
	}
	return targets, nil
}
