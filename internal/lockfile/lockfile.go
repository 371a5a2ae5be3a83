// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package lockfile reads and writes cyrene.toml, the table of desired
// versions per app.
//
//	loaded = "/home/me/project/cyrene.toml"   # default file only
//
//	[apps.node]
//	version = "22"
//	allow_major_drift = false
//
//	[apps]
//	jq = "1.7.1"                               # shorthand, read only
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/oops"

	"github.com/cyrene-tools/cyrene/internal/fsutil"
	"github.com/cyrene-tools/cyrene/internal/version"
)

// CodeIO marks lockfiles that cannot be read, parsed or written.
const CodeIO = "LOCKFILE_IO"

// FileName is the lockfile name in the config and project directories.
const FileName = "cyrene.toml"

// Entry is the desired version of one app.
type Entry struct {
	App  string
	Spec version.Spec
	// AllowMajorDrift lets upgrades leave the major line of the linked version.
	AllowMajorDrift bool
}

// File is a parsed lockfile. It is not safe for concurrent use; callers
// that mutate it from several goroutines serialize access themselves.
type File struct {
	path    string
	loaded  string
	entries map[string]Entry
	dirty   bool
}

type fileEntry struct {
	Version         string `toml:"version"`
	AllowMajorDrift bool   `toml:"allow_major_drift,omitempty"`
}

type fileDoc struct {
	Loaded string               `toml:"loaded,omitempty"`
	Apps   map[string]fileEntry `toml:"apps"`
}

type rawDoc struct {
	Loaded string         `toml:"loaded"`
	Apps   map[string]any `toml:"apps"`
}

// New returns an empty lockfile that will be written to path.
func New(path string) *File {
	return &File{path: path, entries: make(map[string]Entry)}
}

// Read loads the lockfile at path. A missing file reads as empty.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(path), nil
		}
		return nil, oops.Code(CodeIO).With("path", path).Wrapf(err, "read lockfile")
	}
	return Parse(path, data)
}

// Parse decodes lockfile content read from path.
func Parse(path string, data []byte) (*File, error) {
	var raw rawDoc
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, oops.Code(CodeIO).With("path", path).Wrapf(err, "parse lockfile")
	}

	f := New(path)
	f.loaded = raw.Loaded
	for app, value := range raw.Apps {
		entry, err := decodeEntry(app, value)
		if err != nil {
			return nil, oops.With("path", path).With("app", app).Wrap(err)
		}
		f.entries[app] = entry
	}
	return f, nil
}

func decodeEntry(app string, value any) (Entry, error) {
	var specText string
	var drift bool
	switch v := value.(type) {
	case string:
		specText = v
	case map[string]any:
		s, ok := v["version"].(string)
		if !ok {
			return Entry{}, oops.Code(CodeIO).Errorf("entry %s: version must be a string", app)
		}
		specText = s
		if raw, present := v["allow_major_drift"]; present {
			b, ok := raw.(bool)
			if !ok {
				return Entry{}, oops.Code(CodeIO).Errorf("entry %s: allow_major_drift must be a boolean", app)
			}
			drift = b
		}
	default:
		return Entry{}, oops.Code(CodeIO).Errorf("entry %s: expected a version string or table, got %T", app, value)
	}

	spec, err := version.ParseSpec(specText)
	if err != nil {
		return Entry{}, err
	}
	return Entry{App: app, Spec: spec, AllowMajorDrift: drift}, nil
}

// Path returns where the lockfile is written.
func (f *File) Path() string { return f.path }

// Dirty reports whether the in-memory table differs from the file.
func (f *File) Dirty() bool { return f.dirty }

// Loaded returns the project lockfile this default file points at.
func (f *File) Loaded() string { return f.loaded }

// SetLoaded records the active project lockfile.
func (f *File) SetLoaded(path string) {
	if f.loaded != path {
		f.loaded = path
		f.dirty = true
	}
}

// Len returns the number of entries.
func (f *File) Len() int { return len(f.entries) }

// Entries returns the entries ordered by app name.
func (f *File) Entries() []Entry {
	out := make([]Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}

// Get returns the entry for app.
func (f *File) Get(app string) (Entry, bool) {
	e, ok := f.entries[app]
	return e, ok
}

// Set upserts an entry.
func (f *File) Set(e Entry) {
	if old, ok := f.entries[e.App]; ok && old.Spec.String() == e.Spec.String() && old.AllowMajorDrift == e.AllowMajorDrift {
		return
	}
	f.entries[e.App] = e
	f.dirty = true
}

// Remove deletes the entry for app and reports whether it existed.
func (f *File) Remove(app string) bool {
	if _, ok := f.entries[app]; !ok {
		return false
	}
	delete(f.entries, app)
	f.dirty = true
	return true
}

// Marshal encodes the lockfile in its canonical form.
func (f *File) Marshal() ([]byte, error) {
	doc := fileDoc{Loaded: f.loaded, Apps: make(map[string]fileEntry, len(f.entries))}
	for app, e := range f.entries {
		doc.Apps[app] = fileEntry{Version: e.Spec.String(), AllowMajorDrift: e.AllowMajorDrift}
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode lockfile: %w", err)
	}
	return data, nil
}

// Save writes the lockfile if it changed since it was read.
func (f *File) Save() error {
	if !f.dirty {
		return nil
	}
	data, err := f.Marshal()
	if err != nil {
		return oops.Code(CodeIO).With("path", f.path).Wrap(err)
	}
	if err := fsutil.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return oops.Code(CodeIO).With("path", f.path).Wrapf(err, "write lockfile")
	}
	f.dirty = false
	return nil
}
