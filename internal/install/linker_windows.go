// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

//go:build windows

package install

import (
	"fmt"
	"os"
)

// replaceLinker removes then recreates links; Windows cannot rename over an
// existing symlink.
type replaceLinker struct{}

// NewLinker returns the Linker for this platform.
func NewLinker() Linker { return replaceLinker{} }

func (replaceLinker) Replace(target, path string) error {
	if err := removeLink(path); err != nil {
		return err
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

func (replaceLinker) Remove(path string) error { return removeLink(path) }

func (replaceLinker) Target(path string) (string, error) { return os.Readlink(path) }

func (replaceLinker) IsLink(path string) bool { return isSymlink(path) }
