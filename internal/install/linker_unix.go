// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

//go:build !windows

package install

import (
	"fmt"
	"os"
	"path/filepath"
)

// symlinkLinker publishes links as symlinks swapped in with rename(2).
type symlinkLinker struct{}

// NewLinker returns the Linker for this platform.
func NewLinker() Linker { return symlinkLinker{} }

func (symlinkLinker) Replace(target, path string) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-link")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish link: %w", err)
	}
	return nil
}

func (symlinkLinker) Remove(path string) error { return removeLink(path) }

func (symlinkLinker) Target(path string) (string, error) { return os.Readlink(path) }

func (symlinkLinker) IsLink(path string) bool { return isSymlink(path) }
