// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package batch

import (
	"github.com/felixgeelhaar/statekit"
)

// State is where a target is in its run.
type State string

// Machine state ids. Untyped so they convert to statekit's id type.
const (
	queued       = "queued"
	resolving    = "resolving"
	fetching     = "fetching"
	installing   = "installing"
	linking      = "linking"
	uninstalling = "uninstalling"
	done         = "done"
	failed       = "failed"
)

// Target states.
const (
	StateQueued       State = queued
	StateResolving    State = resolving
	StateFetching     State = fetching
	StateInstalling   State = installing
	StateLinking      State = linking
	StateUninstalling State = uninstalling
	StateDone         State = done
	StateFailed       State = failed
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Events driving the target machine.
const (
	EventResolve   = "RESOLVE"
	EventFetch     = "FETCH"
	EventInstall   = "INSTALL"
	EventLink      = "LINK"
	EventUninstall = "UNINSTALL"
	EventSucceed   = "SUCCEED"
	EventFail      = "FAIL"
)

// targetContext is the statekit context of a target machine.
type targetContext struct {
	app string
}

// newTargetMachine builds the per-target lifecycle. Stages only move
// forward; any non-terminal stage may fail.
func newTargetMachine(app string) (*statekit.Interpreter[targetContext], error) {
	machine, err := statekit.NewMachine[targetContext]("batch-target").
		WithInitial(queued).
		WithContext(targetContext{app: app}).
		State(queued).
		On(EventResolve).Target(resolving).
		On(EventFail).Target(failed).Done().
		State(resolving).
		On(EventFetch).Target(fetching).
		On(EventLink).Target(linking).
		On(EventUninstall).Target(uninstalling).
		On(EventSucceed).Target(done).
		On(EventFail).Target(failed).Done().
		State(fetching).
		On(EventInstall).Target(installing).
		On(EventFail).Target(failed).Done().
		State(installing).
		On(EventLink).Target(linking).
		On(EventSucceed).Target(done).
		On(EventFail).Target(failed).Done().
		State(linking).
		On(EventUninstall).Target(uninstalling).
		On(EventSucceed).Target(done).
		On(EventFail).Target(failed).Done().
		State(uninstalling).
		On(EventSucceed).Target(done).
		On(EventFail).Target(failed).Done().
		State(done).Done().
		State(failed).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}
