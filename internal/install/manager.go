// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package install owns the apps directory: installed versions, the active
// version link of each app, and the binary links in the install directory.
//
// Layout:
//
//	<apps-dir>/<app>/<version>/...     one installed version
//	<apps-dir>/<app>/current           link to the active version
//	<apps-dir>/.locks/<app>.lock       cross-process install lock
//	<install-dir>/<bin>                link to <apps-dir>/<app>/current/<rel>
//
// A version exists once its directory does. Installs are written to a
// .staging-* directory and published with a single rename, so an
// interrupted install is never mistaken for a finished one.
package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

const (
	currentName   = "current"
	locksDir      = ".locks"
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"

	lockPoll     = 100 * time.Millisecond
	lockWait     = 2 * time.Minute
	staleLockAge = 30 * time.Minute
)

// Plugin is the part of a plugin the manager drives.
type Plugin interface {
	Supports(hook plugin.Hook) bool
	Fetch(ctx context.Context, version, downloadDir string) (string, error)
	Install(ctx context.Context, version, artifact, downloadDir, dest string) error
	Uninstall(ctx context.Context, version, dir string) error
	Binaries(ctx context.Context, version, dir string) (map[string]string, error)
}

// Plugins looks up the plugin backing an app.
type Plugins interface {
	Plugin(ctx context.Context, app string) (Plugin, error)
}

// PluginsFunc adapts a function to Plugins.
type PluginsFunc func(ctx context.Context, app string) (Plugin, error)

// Plugin calls f.
func (f PluginsFunc) Plugin(ctx context.Context, app string) (Plugin, error) {
	return f(ctx, app)
}

// FromManager serves plugins loaded by a plugin.Manager.
func FromManager(m *plugin.Manager) Plugins {
	return PluginsFunc(func(ctx context.Context, app string) (Plugin, error) {
		p, err := m.Get(ctx, app)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Config locates the directories the manager owns.
type Config struct {
	AppsDir      string
	InstallDir   string
	DownloadsDir string
	// SelfName is the app name under which cyrene manages itself.
	SelfName string
	// InstallDirOverridden is set when InstallDir was configured rather
	// than derived from the running executable.
	InstallDirOverridden bool
}

// InstalledVersion is a published install of one app version.
type InstalledVersion struct {
	App     string
	Version string
	Path    string
}

// Installed describes one version in a listing.
type Installed struct {
	Version string
	Active  bool
}

// Stage is a step of an install reported to observers.
type Stage string

// Install stages.
const (
	StageFetching   Stage = "fetching"
	StageInstalling Stage = "installing"
)

// Manager installs, links and removes app versions. Safe for concurrent use;
// operations on the same app are serialized.
type Manager struct {
	cfg        Config
	plugins    Plugins
	linker     Linker
	executable func() (string, error)
	logger     *slog.Logger

	mu       sync.Mutex
	appLocks map[string]*sync.Mutex
}

// Option configures the Manager.
type Option func(*Manager)

// WithLinker replaces the platform linker.
func WithLinker(l Linker) Option {
	return func(m *Manager) { m.linker = l }
}

// WithExecutable overrides how the running executable is located.
func WithExecutable(fn func() (string, error)) Option {
	return func(m *Manager) { m.executable = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. Panics if plugins is nil.
func NewManager(cfg Config, plugins Plugins, opts ...Option) *Manager {
	if plugins == nil {
		panic("install.NewManager: plugins cannot be nil")
	}
	m := &Manager{
		cfg:        cfg,
		plugins:    plugins,
		linker:     NewLinker(),
		executable: os.Executable,
		logger:     slog.Default(),
		appLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the directories the manager was created with.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) appDir(app string) string { return filepath.Join(m.cfg.AppsDir, app) }

// VersionDir returns where version of app is installed.
func (m *Manager) VersionDir(app, version string) string {
	return filepath.Join(m.cfg.AppsDir, app, version)
}

func (m *Manager) currentPath(app string) string {
	return filepath.Join(m.cfg.AppsDir, app, currentName)
}

// IsInstalled reports whether version of app is published.
func (m *Manager) IsInstalled(app, version string) bool {
	if !validVersion(version) {
		return false
	}
	return isDir(m.VersionDir(app, version))
}

// InstallOption configures one Install call.
type InstallOption func(*installOptions)

type installOptions struct {
	observe func(Stage)
}

// WithStageObserver reports stage transitions of an install.
func WithStageObserver(fn func(Stage)) InstallOption {
	return func(o *installOptions) { o.observe = fn }
}

// Install fetches and installs version of app. Installing a version that is
// already published succeeds without calling the plugin.
func (m *Manager) Install(ctx context.Context, app, ver string, opts ...InstallOption) (iv InstalledVersion, err error) {
	defer func() { observe(OpInstall, err) }()

	if !validVersion(ver) {
		return InstalledVersion{}, oops.Code(CodeInstall).
			With("app", app).
			With("version", ver).
			Errorf("invalid version name %q", ver)
	}
	o := installOptions{observe: func(Stage) {}}
	for _, opt := range opts {
		opt(&o)
	}

	dir := m.VersionDir(app, ver)
	iv = InstalledVersion{App: app, Version: ver, Path: dir}
	if isDir(dir) {
		return iv, nil
	}

	p, err := m.plugins.Plugin(ctx, app)
	if err != nil {
		return InstalledVersion{}, err
	}

	unlock, err := m.lock(ctx, app)
	if err != nil {
		return InstalledVersion{}, oops.Code(CodeInstall).With("app", app).Wrapf(err, "lock %s", app)
	}
	defer unlock()
	defer func() {
		// A failed first install leaves no empty app dir behind.
		if err != nil {
			_ = os.Remove(m.appDir(app))
		}
	}()

	// Another process may have finished while we waited for the lock.
	if isDir(dir) {
		return iv, nil
	}
	m.sweep(app)

	downloadDir := filepath.Join(m.cfg.DownloadsDir, app, ver)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil { //nolint:gosec // download dirs are user-readable
		return InstalledVersion{}, oops.Code(CodeFetch).With("app", app).Wrapf(err, "create download dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(downloadDir); rmErr != nil {
			m.logger.Warn("failed to remove downloads", "path", downloadDir, "error", rmErr)
		}
	}()

	o.observe(StageFetching)
	artifact, err := p.Fetch(ctx, ver, downloadDir)
	if err != nil {
		return InstalledVersion{}, recode(CodeFetch, app, ver, err)
	}

	staging, err := os.MkdirTemp(m.appDir(app), stagingPrefix+ver+"-")
	if err != nil {
		return InstalledVersion{}, oops.Code(CodeInstall).With("app", app).Wrapf(err, "create staging dir")
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(staging)
		}
	}()

	o.observe(StageInstalling)
	if err := p.Install(ctx, ver, artifact, downloadDir, staging); err != nil {
		return InstalledVersion{}, recode(CodeInstall, app, ver, err)
	}
	if err := ctx.Err(); err != nil {
		return InstalledVersion{}, oops.Code(CodeInstall).With("app", app).With("version", ver).Wrapf(err, "install interrupted")
	}
	if err := os.Rename(staging, dir); err != nil {
		return InstalledVersion{}, oops.Code(CodeInstall).With("app", app).With("version", ver).Wrapf(err, "publish install")
	}
	published = true

	m.logger.Debug("installed", "app", app, "version", ver, "path", dir)
	return iv, nil
}

// Uninstall removes an installed version. The active link is cleared first
// when it points at that version, and the app directory goes away with its
// last version.
func (m *Manager) Uninstall(ctx context.Context, app, ver string) (err error) {
	defer func() { observe(OpUninstall, err) }()

	if !m.IsInstalled(app, ver) {
		return ErrNotInstalled(app, ver)
	}
	dir := m.VersionDir(app, ver)
	if m.runningFrom(dir) {
		return ErrSelfProtect(app, dir, "uninstall")
	}

	p, err := m.plugins.Plugin(ctx, app)
	if err != nil {
		if !errutil.HasCode(err, plugin.CodeNotFound) {
			return err
		}
		errutil.LogWarn(m.logger.With("app", app), "plugin missing, removing files only", err)
		p = nil
	}

	unlock, err := m.lock(ctx, app)
	if err != nil {
		return oops.Code(CodeUninstall).With("app", app).Wrapf(err, "lock %s", app)
	}
	defer unlock()

	if p != nil && p.Supports(plugin.HookUninstall) {
		if err := p.Uninstall(ctx, ver, dir); err != nil {
			return recode(CodeUninstall, app, ver, err)
		}
	}

	if current, _ := m.Current(app); current == ver {
		if err := m.unlinkLocked(app); err != nil {
			return oops.Code(CodeUninstall).With("app", app).With("version", ver).Wrapf(err, "clear link")
		}
	}

	trash := filepath.Join(m.appDir(app), fmt.Sprintf("%s%s-%d", trashPrefix, ver, time.Now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return oops.Code(CodeUninstall).With("app", app).With("version", ver).Wrapf(err, "remove install")
	}
	if err := os.RemoveAll(trash); err != nil {
		m.logger.Warn("failed to clean removed install", "path", trash, "error", err)
	}

	if remaining, _ := m.ListInstalled(app); len(remaining) == 0 {
		m.sweep(app)
		if err := os.Remove(m.currentPath(app)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to remove dangling link", "app", app, "error", err)
		}
		if err := os.Remove(m.appDir(app)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("app dir not removed", "app", app, "error", err)
		}
	}
	return nil
}

// ListInstalled returns the installed versions of app, newest first.
func (m *Manager) ListInstalled(app string) ([]Installed, error) {
	entries, err := os.ReadDir(m.appDir(app))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", app, err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && validVersion(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	version.SortDescending(versions)

	current, _ := m.Current(app)
	out := make([]Installed, len(versions))
	for i, v := range versions {
		out[i] = Installed{Version: v, Active: v == current}
	}
	return out, nil
}

// Apps returns the apps with at least one installed version, sorted.
func (m *Manager) Apps() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.AppsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read apps dir: %w", err)
	}
	var apps []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if installed, _ := m.ListInstalled(e.Name()); len(installed) > 0 {
			apps = append(apps, e.Name())
		}
	}
	return apps, nil
}

// Current returns the active version of app, or "" when it is not linked.
func (m *Manager) Current(app string) (string, error) {
	target, err := m.linker.Target(m.currentPath(app))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read link of %s: %w", app, err)
	}
	return filepath.Base(target), nil
}

// lock serializes work on app within the process and, through an O_EXCL
// lock file, across processes.
func (m *Manager) lock(ctx context.Context, app string) (func(), error) {
	m.mu.Lock()
	l, ok := m.appLocks[app]
	if !ok {
		l = &sync.Mutex{}
		m.appLocks[app] = l
	}
	m.mu.Unlock()
	l.Lock()

	dir := filepath.Join(m.cfg.AppsDir, locksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // apps dir is user-readable
		l.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.MkdirAll(m.appDir(app), 0o755); err != nil { //nolint:gosec // apps dir is user-readable
		l.Unlock()
		return nil, fmt.Errorf("create app dir: %w", err)
	}
	path := filepath.Join(dir, app+".lock")

	backoff := retry.WithMaxDuration(lockWait, retry.NewConstant(lockPoll))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // path built from config
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			m.logger.Warn("removing stale lock", "app", app, "path", path)
			_ = os.Remove(path)
		}
		return retry.RetryableError(fmt.Errorf("%s is locked by another process", app))
	})
	if err != nil {
		l.Unlock()
		return nil, err
	}

	return func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to release lock", "app", app, "error", err)
		}
		l.Unlock()
	}, nil
}

// sweep removes leftovers of interrupted installs and uninstalls.
// Callers hold the app lock.
func (m *Manager) sweep(app string) {
	entries, err := os.ReadDir(m.appDir(app))
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, stagingPrefix) && !strings.HasPrefix(name, trashPrefix) {
			continue
		}
		path := filepath.Join(m.appDir(app), name)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove leftover", "path", path, "error", err)
		} else {
			m.logger.Debug("removed leftover", "path", path)
		}
	}
}

// runningFrom reports whether the running executable lives under dir.
func (m *Manager) runningFrom(dir string) bool {
	exe, err := m.resolvedExecutable()
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(resolved, exe)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) resolvedExecutable() (string, error) {
	exe, err := m.executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func validVersion(v string) bool {
	return v != "" && v != "." && v != ".." && v != currentName &&
		!strings.HasPrefix(v, ".") && !strings.ContainsAny(v, `/\:`)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
