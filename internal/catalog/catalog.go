// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package catalog serves the version lists plugins advertise, cached on
// disk so list_versions is not called on every command.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cyrene-tools/cyrene/internal/fsutil"
	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// FileName is the cache file name inside the cache directory.
const FileName = "versions.toml"

// DefaultTTL is how long a cached list is served without asking the plugin.
const DefaultTTL = time.Hour

// Source produces the advertised version list of an app.
type Source interface {
	ListVersions(ctx context.Context, app string) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, app string) ([]string, error)

// ListVersions calls f.
func (f SourceFunc) ListVersions(ctx context.Context, app string) ([]string, error) {
	return f(ctx, app)
}

type cacheEntry struct {
	Versions  []string  `toml:"versions"`
	Refreshed time.Time `toml:"refreshed"`
}

type cacheDoc struct {
	Apps map[string]cacheEntry `toml:"apps"`
}

// Catalog caches advertised version lists. Safe for concurrent use.
type Catalog struct {
	source Source
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	doc    cacheDoc
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL sets the cache lifetime. Zero disables caching reads.
func WithTTL(d time.Duration) Option {
	return func(c *Catalog) { c.ttl = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a Catalog caching in cacheDir/versions.toml. Panics if source is nil.
func New(source Source, cacheDir string, opts ...Option) *Catalog {
	if source == nil {
		panic("catalog.New: source cannot be nil")
	}
	c := &Catalog{
		source: source,
		path:   filepath.Join(cacheDir, FileName),
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available returns the advertised versions of app, preferred first.
// A fresh cached list is returned unless refresh is set. When the plugin
// fails and a stale list exists, the stale list is served with a warning.
func (c *Catalog) Available(ctx context.Context, app string, refresh bool) ([]string, error) {
	c.mu.Lock()
	c.loadLocked()
	entry, cached := c.doc.Apps[app]
	c.mu.Unlock()

	if cached && !refresh && c.ttl > 0 && c.now().Sub(entry.Refreshed) < c.ttl {
		return clone(entry.Versions), nil
	}

	versions, err := c.source.ListVersions(ctx, app)
	if err != nil {
		if cached && !errutil.HasCode(err, plugin.CodeNotFound) && ctx.Err() == nil {
			errutil.LogWarn(c.logger.With("app", app, "cached_at", entry.Refreshed), "list_versions failed, using cached versions", err)
			return clone(entry.Versions), nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.Apps[app] = cacheEntry{Versions: clone(versions), Refreshed: c.now().UTC()}
	if err := c.saveLocked(); err != nil {
		c.logger.Warn("failed to write versions cache", "path", c.path, "error", err)
	}
	return versions, nil
}

// Cached returns the cached list for app and when it was fetched.
func (c *Catalog) Cached(app string) ([]string, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	entry, ok := c.doc.Apps[app]
	return clone(entry.Versions), entry.Refreshed, ok
}

// Forget drops app from the cache.
func (c *Catalog) Forget(app string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	if _, ok := c.doc.Apps[app]; !ok {
		return nil
	}
	delete(c.doc.Apps, app)
	return c.saveLocked()
}

// loadLocked reads the cache once. A missing or corrupt file starts empty.
func (c *Catalog) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.doc = cacheDoc{Apps: map[string]cacheEntry{}}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read versions cache", "path", c.path, "error", err)
		}
		return
	}
	var doc cacheDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("ignoring corrupt versions cache", "path", c.path, "error", err)
		return
	}
	if doc.Apps != nil {
		c.doc = doc
	}
}

func (c *Catalog) saveLocked() error {
	data, err := toml.Marshal(c.doc)
	if err != nil {
		return fmt.Errorf("encode versions cache: %w", err)
	}
	return fsutil.WriteFileAtomic(c.path, data, 0o644)
}

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// FromPlugins lists versions through the plugins loaded by m.
func FromPlugins(m *plugin.Manager) Source {
	return SourceFunc(func(ctx context.Context, app string) ([]string, error) {
		p, err := m.Get(ctx, app)
		if err != nil {
			return nil, err
		}
		return p.ListVersions(ctx)
	})
}
