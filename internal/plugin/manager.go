// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ScriptExt is the file extension of plugin scripts.
const ScriptExt = ".lua"

// Manager discovers plugins and loads them on first use. Loaded plugins are
// cached for the lifetime of the Manager.
type Manager struct {
	pluginsDir string
	host       Host
	logger     *slog.Logger
	loaded     map[string]*Plugin
	mu         sync.Mutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a plugin manager for scripts in pluginsDir.
// Panics if host is nil.
func NewManager(pluginsDir string, host Host, opts ...ManagerOption) *Manager {
	if host == nil {
		panic("plugin.NewManager: host cannot be nil")
	}
	m := &Manager{
		pluginsDir: pluginsDir,
		host:       host,
		logger:     slog.Default(),
		loaded:     make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string { return m.pluginsDir }

// Get returns the plugin for app, loading it on first use.
func (m *Manager) Get(ctx context.Context, app string) (*Plugin, error) {
	if !validName(app) {
		return nil, ErrNotFound(app, m.pluginsDir)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.loaded[app]; ok {
		return p, nil
	}

	path := filepath.Join(m.pluginsDir, app+ScriptExt)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound(app, m.pluginsDir)
		}
		return nil, fmt.Errorf("stat plugin %s: %w", app, err)
	}

	caps, err := m.host.Load(ctx, app, path)
	if err != nil {
		return nil, err
	}
	for _, hook := range RequiredHooks {
		if !caps.Has(hook) {
			m.logger.Warn("plugin is missing a required hook",
				"plugin", app,
				"hook", hook)
		}
	}

	p := &Plugin{name: app, path: path, caps: caps, host: m.host}
	m.loaded[app] = p

	m.logger.Debug("loaded plugin",
		"plugin", app,
		"path", path,
		"hooks", caps.List())
	return p, nil
}

// Discover returns the names of all plugin scripts in the plugins directory,
// sorted. A missing directory yields no plugins.
func (m *Manager) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ScriptExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ScriptExt)
		if !validName(name) {
			m.logger.Warn("skipping plugin with invalid name", "file", entry.Name())
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Loaded returns names of plugins loaded so far, sorted.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops all loaded plugins and closes the host.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = make(map[string]*Plugin)
	if err := m.host.Close(ctx); err != nil {
		return fmt.Errorf("close plugin host: %w", err)
	}
	return nil
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\:`)
}
