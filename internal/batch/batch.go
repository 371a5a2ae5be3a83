// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package batch runs install, upgrade and uninstall over several targets.
// Each target walks its own state machine; a failing target never stops
// its siblings, and the lockfile is written once after all targets settle.
package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/felixgeelhaar/statekit"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/cyrene-tools/cyrene/internal/install"
	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/reconcile"
	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// Op is a batch operation.
type Op string

// Operations.
const (
	OpInstall   Op = "install"
	OpUpgrade   Op = "upgrade"
	OpUninstall Op = "uninstall"
)

// DefaultWorkers bounds concurrent targets when none is configured.
const DefaultWorkers = 4

// Catalog lists advertised versions.
type Catalog interface {
	Available(ctx context.Context, app string, refresh bool) ([]string, error)
}

// Installer is the part of the install manager a batch drives.
type Installer interface {
	IsInstalled(app, version string) bool
	Install(ctx context.Context, app, version string, opts ...install.InstallOption) (install.InstalledVersion, error)
	Uninstall(ctx context.Context, app, version string) error
	Link(ctx context.Context, app, version string) error
	Current(app string) (string, error)
	ListInstalled(app string) ([]install.Installed, error)
	Apps() ([]string, error)
}

// Observer is told about every state change of a target. It is called
// from worker goroutines.
type Observer func(t Target, s State)

// Orchestrator runs batches against one lockfile.
type Orchestrator struct {
	catalog   Catalog
	installer Installer
	lock      *lockfile.File
	workers   int
	observer  Observer
	logger    *slog.Logger

	// mu serializes access to lock.
	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds how many targets run at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithObserver reports target state changes.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator recording into lock. Panics if a dependency is nil.
func New(catalog Catalog, installer Installer, lock *lockfile.File, opts ...Option) *Orchestrator {
	if catalog == nil {
		panic("batch.New: catalog cannot be nil")
	}
	if installer == nil {
		panic("batch.New: installer cannot be nil")
	}
	if lock == nil {
		panic("batch.New: lockfile cannot be nil")
	}
	o := &Orchestrator{
		catalog:   catalog,
		installer: installer,
		lock:      lock,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run applies op to every target and returns once all have settled.
// Upgrading with no targets upgrades every installed or locked app.
func (o *Orchestrator) Run(ctx context.Context, op Op, targets []Target) *Report {
	report := &Report{RunID: ulid.Make().String(), Op: op}
	if op == OpUpgrade && len(targets) == 0 {
		targets = o.tracked()
	}
	report.Outcomes = make([]Outcome, len(targets))
	logger := o.logger.With("run_id", report.RunID, "operation", string(op))
	logger.Debug("batch started", "targets", len(targets))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.workers)
	for i, t := range targets {
		eg.Go(func() error {
			report.Outcomes[i] = o.runTarget(ctx, op, t, logger.With("app", t.App))
			return nil
		})
	}
	_ = eg.Wait()

	o.mu.Lock()
	report.LockErr = o.lock.Save()
	o.mu.Unlock()

	logger.Debug("batch finished", "failed", len(report.Failed()))
	return report
}

// tracked returns installed apps and locked apps, sorted.
func (o *Orchestrator) tracked() []Target {
	set := make(map[string]bool)
	apps, err := o.installer.Apps()
	if err != nil {
		o.logger.Warn("failed to list installed apps", "error", err)
	}
	for _, app := range apps {
		// An installed app without a link was unlinked on purpose.
		if current, err := o.installer.Current(app); err == nil && current != "" {
			set[app] = true
		}
	}
	o.mu.Lock()
	for _, e := range o.lock.Entries() {
		set[e.App] = true
	}
	o.mu.Unlock()

	names := make([]string, 0, len(set))
	for app := range set {
		names = append(names, app)
	}
	sort.Strings(names)
	targets := make([]Target, len(names))
	for i, app := range names {
		targets[i] = Target{App: app}
	}
	return targets
}

func (o *Orchestrator) runTarget(ctx context.Context, op Op, t Target, logger *slog.Logger) Outcome {
	out := Outcome{Target: t, State: StateQueued}
	interp, err := newTargetMachine(t.App)
	if err != nil {
		out.State, out.FailedAt, out.Err = StateFailed, StateQueued, err
		return out
	}
	interp.Start()
	defer interp.Stop()

	r := &run{o: o, interp: interp, out: &out, logger: logger}
	switch op {
	case OpInstall:
		err = r.install(ctx)
	case OpUpgrade:
		err = r.upgrade(ctx)
	case OpUninstall:
		err = r.uninstall(ctx)
	default:
		err = oops.Code(CodeInvalidTarget).With("operation", string(op)).Errorf("unknown operation %q", op)
	}
	if err != nil {
		r.fail(err)
	} else {
		r.send(EventSucceed)
	}

	TargetsTotal.WithLabelValues(string(op), string(out.State)).Inc()
	return out
}

// run drives one target through its machine.
type run struct {
	o      *Orchestrator
	interp *statekit.Interpreter[targetContext]
	out    *Outcome
	logger *slog.Logger
}

func (r *run) send(event string) {
	r.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	next := State(r.interp.State().Value)
	if next == r.out.State {
		return
	}
	r.out.State = next
	if r.o.observer != nil {
		r.o.observer(r.out.Target, next)
	}
}

func (r *run) fail(err error) {
	r.out.FailedAt = r.out.State
	r.out.Err = err
	r.out.Code = errutil.Code(err)
	r.send(EventFail)
	errutil.LogError(r.logger.With("stage", string(r.out.FailedAt)), "target failed", err)
}

func (r *run) app() string { return r.out.Target.App }

// explicitSpec returns the target's selector when the user gave one.
func (r *run) explicitSpec() *version.Spec {
	if !r.out.Target.HasSpec {
		return nil
	}
	spec := r.out.Target.Spec
	return &spec
}

// resolve picks a version for spec. A miss against a cached list is
// retried against a fresh one, since the cache may predate the release.
func (r *run) resolve(ctx context.Context, spec version.Spec, refresh bool) (string, error) {
	available, err := r.o.catalog.Available(ctx, r.app(), refresh)
	if err != nil {
		return "", err
	}
	v, err := version.Resolve(spec, available)
	if err == nil || refresh || !errutil.HasCode(err, version.CodeResolution) {
		return v, err
	}
	available, refreshErr := r.o.catalog.Available(ctx, r.app(), true)
	if refreshErr != nil {
		return "", err
	}
	return version.Resolve(spec, available)
}

func (r *run) installVersion(ctx context.Context, v string) error {
	r.send(EventFetch)
	_, err := r.o.installer.Install(ctx, r.app(), v, install.WithStageObserver(func(s install.Stage) {
		if s == install.StageInstalling {
			r.send(EventInstall)
		}
	}))
	if err != nil {
		return err
	}
	// Installed concurrently by someone else: no install stage was reported.
	if r.out.State == StateFetching {
		r.send(EventInstall)
	}
	return nil
}

func (r *run) link(ctx context.Context, v string) error {
	r.send(EventLink)
	if err := r.o.installer.Link(ctx, r.app(), v); err != nil {
		if install.IsLinkError(err) {
			r.logger.Info("version stays installed but is not active", "version", v)
		}
		return err
	}
	r.record(v)
	return nil
}

func (r *run) record(v string) {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	reconcile.Record(r.o.lock, r.app(), v, reconcile.RecordOptions{Spec: r.explicitSpec()})
}

func (r *run) entry() (lockfile.Entry, bool) {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	return r.o.lock.Get(r.app())
}

// install resolves the target (Latest without a selector), installs it and
// links it when nothing else is active or the user asked for a version.
func (r *run) install(ctx context.Context) error {
	r.send(EventResolve)
	spec := version.LatestSpec()
	if r.out.Target.HasSpec {
		spec = r.out.Target.Spec
	}
	resolved, err := r.resolve(ctx, spec, false)
	if err != nil {
		return err
	}
	r.out.Version = resolved

	current, err := r.o.installer.Current(r.app())
	if err != nil {
		return err
	}
	r.out.Previous = current

	installed := r.o.installer.IsInstalled(r.app(), resolved)
	if !installed {
		if err := r.installVersion(ctx, resolved); err != nil {
			return err
		}
	}
	switch {
	case current == resolved:
		r.out.Unchanged = installed
		r.record(resolved)
		return nil
	case current != "" && !r.out.Target.HasSpec:
		r.logger.Info("installed without linking, another version is active",
			"version", resolved, "active", current)
		return nil
	}
	return r.link(ctx, resolved)
}

// upgrade moves the app to the newest version its policy allows, then
// removes the version it replaced. The policy is relative to the linked
// version; an unlinked app is only upgraded when a selector or lockfile
// entry says what it should run.
func (r *run) upgrade(ctx context.Context) error {
	r.send(EventResolve)
	current, err := r.o.installer.Current(r.app())
	if err != nil {
		return err
	}
	r.out.Previous = current
	entry, tracked := r.entry()

	if current == "" {
		if !tracked && !r.out.Target.HasSpec {
			return r.notLinked()
		}
		spec := entry.Spec
		if r.out.Target.HasSpec {
			spec = r.out.Target.Spec
		}
		resolved, err := r.resolve(ctx, spec, true)
		if err != nil {
			return err
		}
		r.out.Version = resolved
		if !r.o.installer.IsInstalled(r.app(), resolved) {
			if err := r.installVersion(ctx, resolved); err != nil {
				return err
			}
		}
		return r.link(ctx, resolved)
	}

	spec := version.Policy{Current: current, AllowMajorDrift: entry.AllowMajorDrift}.UpgradeSpec()
	if r.out.Target.HasSpec {
		spec = r.out.Target.Spec
	}
	resolved, err := r.resolve(ctx, spec, true)
	if err != nil {
		return err
	}
	r.out.Version = resolved

	if resolved == current || (!r.out.Target.HasSpec && version.Compare(resolved, current) < 0) {
		r.out.Unchanged = true
		r.out.Version = current
		return nil
	}

	if !r.o.installer.IsInstalled(r.app(), resolved) {
		if err := r.installVersion(ctx, resolved); err != nil {
			return err
		}
	}
	if err := r.link(ctx, resolved); err != nil {
		return err
	}

	r.send(EventUninstall)
	if err := r.o.installer.Uninstall(ctx, r.app(), current); err != nil {
		errutil.LogWarn(r.logger.With("version", current), "previous version kept", err)
		return nil
	}
	r.out.Removed = []string{current}
	return nil
}

func (r *run) notLinked() error {
	installed, err := r.o.installer.ListInstalled(r.app())
	if err != nil {
		return err
	}
	if len(installed) == 0 {
		return oops.Code(install.CodeNotInstalled).
			With("app", r.app()).
			Hint("run: cyrene install " + r.app()).
			Errorf("%s is not installed", r.app())
	}
	return oops.Code(CodeNotLinked).
		With("app", r.app()).
		Hint("run: cyrene link " + r.app() + " <version>, or upgrade " + r.app() + "@<selector>").
		Errorf("%s has no active version to upgrade from", r.app())
}

// uninstall removes the installed versions the selector matches; without
// one, every version. The lockfile entry goes with the last version.
func (r *run) uninstall(ctx context.Context) error {
	r.send(EventResolve)
	installed, err := r.o.installer.ListInstalled(r.app())
	if err != nil {
		return err
	}
	if len(installed) == 0 {
		return oops.Code(install.CodeNotInstalled).
			With("app", r.app()).
			Errorf("%s is not installed", r.app())
	}

	var victims []string
	for _, iv := range installed {
		if !r.out.Target.HasSpec || r.out.Target.Spec.Matches(iv.Version) {
			victims = append(victims, iv.Version)
		}
	}
	if len(victims) == 0 {
		return version.ErrNoMatch(r.out.Target.Spec, len(installed))
	}

	r.send(EventUninstall)
	for _, v := range victims {
		if err := r.o.installer.Uninstall(ctx, r.app(), v); err != nil {
			return err
		}
		r.out.Removed = append(r.out.Removed, v)
	}

	remaining, err := r.o.installer.ListInstalled(r.app())
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		r.o.mu.Lock()
		reconcile.Forget(r.o.lock, r.app())
		r.o.mu.Unlock()
	}
	return nil
}
