// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"

	"github.com/cyrene-tools/cyrene/internal/archive"
)

// Link makes version the active version of app: the app's current link is
// repointed, then one link per binary is published in the install dir.
// Binary links of the previously active version that the new version does
// not provide are removed.
func (m *Manager) Link(ctx context.Context, app, ver string) (err error) {
	defer func() { observe(OpLink, err) }()

	if !m.IsInstalled(app, ver) {
		return ErrNotInstalled(app, ver)
	}
	dir := m.VersionDir(app, ver)

	p, err := m.plugins.Plugin(ctx, app)
	if err != nil {
		return err
	}
	bins, err := p.Binaries(ctx, ver, dir)
	if err != nil {
		return recode(CodeLink, app, ver, err)
	}

	if err := m.protectSelf(app, bins); err != nil {
		return err
	}

	names := make([]string, 0, len(bins))
	for name, rel := range bins {
		if name == "" || strings.ContainsAny(name, `/\:`) || strings.HasPrefix(name, ".") {
			return oops.Code(CodeLink).With("app", app).Errorf("invalid binary name %q", name)
		}
		target := filepath.Join(dir, rel)
		if filepath.IsAbs(rel) || !archive.Within(dir, target) {
			return oops.Code(CodeLink).With("app", app).With("binary", name).Errorf("binary %s points outside the install: %s", name, rel)
		}
		if _, err := os.Stat(target); err != nil {
			return oops.Code(CodeLink).
				With("app", app).
				With("version", ver).
				With("binary", name).
				Wrapf(err, "binary %s missing from %s@%s", name, app, ver)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	unlock, err := m.lock(ctx, app)
	if err != nil {
		return oops.Code(CodeLink).With("app", app).Wrapf(err, "lock %s", app)
	}
	defer unlock()

	for _, name := range names {
		path := filepath.Join(m.cfg.InstallDir, name)
		if _, err := os.Lstat(path); err == nil && !m.ownsLink(app, path) {
			return errForeignFile(app, path)
		}
	}
	if err := ctx.Err(); err != nil {
		return ErrLink(app, ver, err)
	}

	if err := os.MkdirAll(m.cfg.InstallDir, 0o755); err != nil { //nolint:gosec // install dir is on PATH
		return ErrLink(app, ver, err)
	}
	if err := m.linker.Replace(ver, m.currentPath(app)); err != nil {
		return ErrLink(app, ver, err)
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
		target := filepath.Join(m.currentPath(app), bins[name])
		if err := m.linker.Replace(target, filepath.Join(m.cfg.InstallDir, name)); err != nil {
			return ErrLink(app, ver, err)
		}
	}

	stale, err := m.binaryLinks(app)
	if err != nil {
		return ErrLink(app, ver, err)
	}
	for _, path := range stale {
		if wanted[filepath.Base(path)] {
			continue
		}
		if err := m.linker.Remove(path); err != nil {
			return ErrLink(app, ver, err)
		}
		m.logger.Debug("removed stale binary link", "app", app, "path", path)
	}

	m.logger.Debug("linked", "app", app, "version", ver, "binaries", names)
	return nil
}

// Unlink removes the binary links of app and then its current link. The
// installed versions stay.
func (m *Manager) Unlink(ctx context.Context, app string) (err error) {
	defer func() { observe(OpUnlink, err) }()

	unlock, err := m.lock(ctx, app)
	if err != nil {
		return oops.Code(CodeLink).With("app", app).Wrapf(err, "lock %s", app)
	}
	defer unlock()

	if err := m.unlinkLocked(app); err != nil {
		return oops.Code(CodeLink).With("app", app).Wrapf(err, "unlink %s", app)
	}
	return nil
}

func (m *Manager) unlinkLocked(app string) error {
	links, err := m.binaryLinks(app)
	if err != nil {
		return err
	}
	for _, path := range links {
		if err := m.linker.Remove(path); err != nil {
			return err
		}
	}
	return m.linker.Remove(m.currentPath(app))
}

// binaryLinks returns the links in the install dir that lead into app's
// current link.
func (m *Manager) binaryLinks(app string) ([]string, error) {
	entries, err := os.ReadDir(m.cfg.InstallDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read install dir: %w", err)
	}
	var links []string
	for _, e := range entries {
		path := filepath.Join(m.cfg.InstallDir, e.Name())
		if m.ownsLink(app, path) {
			links = append(links, path)
		}
	}
	return links, nil
}

func (m *Manager) ownsLink(app, path string) bool {
	if !m.linker.IsLink(path) {
		return false
	}
	target, err := m.linker.Target(path)
	if err != nil {
		return false
	}
	return archive.Within(m.currentPath(app), target)
}

// protectSelf refuses to link when a binary path of the self app holds the
// running executable itself. A managed link at that path is replaceable:
// swapping the link leaves the running file in place.
func (m *Manager) protectSelf(app string, bins map[string]string) error {
	if app != m.cfg.SelfName || m.cfg.SelfName == "" || m.cfg.InstallDirOverridden {
		return nil
	}
	exe, err := m.resolvedExecutable()
	if err != nil {
		return selfProtectErr(app).Wrapf(err, "cannot locate running executable")
	}
	exeInfo, err := os.Stat(exe)
	if err != nil {
		return selfProtectErr(app).Wrapf(err, "cannot stat running executable")
	}
	for name := range bins {
		path := filepath.Join(m.cfg.InstallDir, name)
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if os.SameFile(info, exeInfo) {
			return ErrSelfProtect(app, path, "replace")
		}
	}
	return nil
}
