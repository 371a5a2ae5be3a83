// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package lockfile

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Store locates the default lockfile in the config dir and the project
// lockfile in the working directory. The default file records which one
// is active.
type Store struct {
	defaultPath string
	projectPath string
}

// NewStore creates a Store for configDir and the project in workDir.
func NewStore(configDir, workDir string) *Store {
	return &Store{
		defaultPath: filepath.Join(configDir, FileName),
		projectPath: filepath.Join(workDir, FileName),
	}
}

// DefaultPath returns the default lockfile location.
func (s *Store) DefaultPath() string { return s.defaultPath }

// ProjectPath returns the project lockfile location.
func (s *Store) ProjectPath() string { return s.projectPath }

// Default reads the default lockfile.
func (s *Store) Default() (*File, error) {
	return Read(s.defaultPath)
}

// Active reads the lockfile commands record into: the project lockfile
// named by the default file when it still exists, else the default file.
func (s *Store) Active() (*File, error) {
	def, err := s.Default()
	if err != nil {
		return nil, err
	}
	loaded := def.Loaded()
	if loaded == "" || loaded == s.defaultPath {
		return def, nil
	}
	if _, err := os.Stat(loaded); err != nil {
		return def, nil
	}
	return Read(loaded)
}

// Use makes the lockfile at path active and returns it.
func (s *Store) Use(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, oops.Code(CodeIO).With("path", path).Wrapf(err, "resolve lockfile path")
	}
	def, err := s.Default()
	if err != nil {
		return nil, err
	}
	if abs == s.defaultPath {
		def.SetLoaded("")
		return def, def.Save()
	}
	def.SetLoaded(abs)
	if err := def.Save(); err != nil {
		return nil, err
	}
	return Read(abs)
}

// UseDefault makes the default lockfile active and returns it.
func (s *Store) UseDefault() (*File, error) {
	return s.Use(s.defaultPath)
}
