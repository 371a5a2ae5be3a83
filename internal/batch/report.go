// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package batch

import (
	"github.com/samber/oops"

	"github.com/cyrene-tools/cyrene/internal/reconcile"
)

// CodePartialFailure marks a batch in which at least one target failed.
const CodePartialFailure = reconcile.CodePartialFailure

// Outcome is how one target ended.
type Outcome struct {
	Target Target
	State  State
	// FailedAt is the stage a failed target was in.
	FailedAt State
	// Version is the version the target resolved to.
	Version string
	// Previous is the version that was active before the run.
	Previous string
	// Removed lists versions uninstalled for this target.
	Removed []string
	// Unchanged is set when the target needed no work.
	Unchanged bool
	Err       error
	Code      string
}

// Report is the result of a batch run.
type Report struct {
	RunID    string
	Op       Op
	Outcomes []Outcome
	// LockErr is set when the lockfile could not be written afterwards.
	LockErr error
}

// Failed returns the outcomes of failed targets in input order.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// Err returns PARTIAL_BATCH_FAILURE when any target failed, else the
// lockfile write error, if any.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return r.LockErr
	}
	targets := make([]string, len(failed))
	for i, o := range failed {
		targets[i] = o.Target.String()
	}
	return oops.Code(CodePartialFailure).
		With("run_id", r.RunID).
		With("operation", string(r.Op)).
		With("failed", targets).
		Errorf("%s: %d of %d targets failed", r.Op, len(failed), len(r.Outcomes))
}
