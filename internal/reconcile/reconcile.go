// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package reconcile brings installed versions in line with a lockfile.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/cyrene-tools/cyrene/internal/install"
	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// Error codes reported by reconciliation.
const (
	// CodeUnsatisfiable marks an entry dropped because nothing can satisfy it.
	CodeUnsatisfiable = "LOCKFILE_UNSATISFIABLE"
	// CodePartialFailure marks a run in which some entries or targets failed.
	CodePartialFailure = "PARTIAL_BATCH_FAILURE"
)

// DefaultWorkers bounds concurrent entries when none is configured.
const DefaultWorkers = 4

// Catalog lists advertised versions.
type Catalog interface {
	Available(ctx context.Context, app string, refresh bool) ([]string, error)
}

// Installer is the part of the install manager reconciliation drives.
type Installer interface {
	IsInstalled(app, version string) bool
	Install(ctx context.Context, app, version string, opts ...install.InstallOption) (install.InstalledVersion, error)
	Link(ctx context.Context, app, version string) error
	Current(app string) (string, error)
}

// Result is the outcome for one lockfile entry.
type Result struct {
	App     string
	Spec    version.Spec
	Version string
	// Installed is set when the version had to be installed.
	Installed bool
	// Linked is set when the active link was changed.
	Linked bool
	// Pruned is set when the entry was removed from the lockfile.
	Pruned bool
	Err    error
}

// Report collects entry results in lockfile order.
type Report struct {
	Results []Result
}

// Pruned returns the entries removed as unsatisfiable.
func (r *Report) Pruned() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Pruned {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the entries that could not be brought in line and were kept.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil && !res.Pruned {
			out = append(out, res)
		}
	}
	return out
}

// Err returns a PARTIAL_BATCH_FAILURE error when any entry failed. Pruned
// entries are informational and do not count.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	apps := make([]string, len(failed))
	for i, res := range failed {
		apps[i] = res.App
	}
	return oops.Code(CodePartialFailure).
		With("failed", apps).
		Errorf("%d of %d lockfile entries failed", len(failed), len(r.Results))
}

// Synchronizer reconciles lockfiles.
type Synchronizer struct {
	catalog   Catalog
	installer Installer
	workers   int
	logger    *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithWorkers bounds how many entries are processed at once.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// New creates a Synchronizer. Panics if a dependency is nil.
func New(catalog Catalog, installer Installer, opts ...Option) *Synchronizer {
	if catalog == nil {
		panic("reconcile.New: catalog cannot be nil")
	}
	if installer == nil {
		panic("reconcile.New: installer cannot be nil")
	}
	s := &Synchronizer{
		catalog:   catalog,
		installer: installer,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load installs and links the version every entry of f resolves to.
// Entries nothing can satisfy any more are removed from f, which is left
// dirty for the caller to save once.
func (s *Synchronizer) Load(ctx context.Context, f *lockfile.File) *Report {
	entries := f.Entries()
	report := &Report{Results: make([]Result, len(entries))}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, entry := range entries {
		eg.Go(func() error {
			res := s.sync(ctx, entry)
			if res.Pruned {
				mu.Lock()
				f.Remove(entry.App)
				mu.Unlock()
			}
			report.Results[i] = res
			return nil
		})
	}
	_ = eg.Wait()
	return report
}

func (s *Synchronizer) sync(ctx context.Context, entry lockfile.Entry) Result {
	res := Result{App: entry.App, Spec: entry.Spec}
	logger := s.logger.With("app", entry.App, "spec", entry.Spec.String())

	resolved, err := s.resolve(ctx, entry)
	if err != nil {
		if errutil.HasCode(err, version.CodeResolution) || errutil.HasCode(err, plugin.CodeNotFound) {
			res.Pruned = true
			res.Err = oops.Code(CodeUnsatisfiable).
				With("app", entry.App).
				With("spec", entry.Spec.String()).
				With("cause", err.Error()).
				Errorf("dropped %s %s from the lockfile: %v", entry.App, entry.Spec, err)
			logger.Info("lockfile entry unsatisfiable, removed", "reason", err.Error())
			return res
		}
		res.Err = err
		errutil.LogError(logger, "lockfile entry failed", err)
		return res
	}
	res.Version = resolved

	if !s.installer.IsInstalled(entry.App, resolved) {
		if _, err := s.installer.Install(ctx, entry.App, resolved); err != nil {
			res.Err = err
			errutil.LogError(logger, "install failed", err)
			return res
		}
		res.Installed = true
	}

	current, err := s.installer.Current(entry.App)
	if err != nil {
		res.Err = err
		return res
	}
	if current != resolved {
		if err := s.installer.Link(ctx, entry.App, resolved); err != nil {
			res.Err = err
			errutil.LogError(logger, "link failed", err)
			return res
		}
		res.Linked = true
	}

	logger.Debug("lockfile entry in sync", "version", resolved, "installed", res.Installed, "linked", res.Linked)
	return res
}

// resolve asks the plugin for a fresh list. A pin the plugin no longer
// lists is unresolvable even when that version is still installed.
func (s *Synchronizer) resolve(ctx context.Context, entry lockfile.Entry) (string, error) {
	available, err := s.catalog.Available(ctx, entry.App, true)
	if err != nil {
		return "", err
	}
	return version.Resolve(entry.Spec, available)
}

// RecordOptions adjusts how Record writes an entry.
type RecordOptions struct {
	// Spec, when set, is written as given.
	Spec *version.Spec
	// AllowMajorDrift, when set, replaces the entry's flag.
	AllowMajorDrift *bool
}

// Record notes that app now runs resolved. An existing selector that
// resolved still satisfies is kept; otherwise the entry pins resolved
// exactly. f is not locked; concurrent callers serialize themselves.
func Record(f *lockfile.File, app, resolved string, opts RecordOptions) {
	old, exists := f.Get(app)
	entry := lockfile.Entry{App: app, AllowMajorDrift: old.AllowMajorDrift}
	switch {
	case opts.Spec != nil:
		entry.Spec = *opts.Spec
	case exists && old.Spec.Kind != version.Exact && old.Spec.Matches(resolved):
		entry.Spec = old.Spec
	default:
		entry.Spec = version.ExactSpec(resolved)
	}
	if opts.AllowMajorDrift != nil {
		entry.AllowMajorDrift = *opts.AllowMajorDrift
	}
	f.Set(entry)
}

// Forget removes app from f and reports whether it was tracked.
func Forget(f *lockfile.File, app string) bool {
	return f.Remove(app)
}
