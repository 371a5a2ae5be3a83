// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package install

import (
	"fmt"
	"os"
	"path/filepath"
)

// Linker publishes filesystem indirections. Replace must never leave path
// missing or half-written when the platform allows it.
type Linker interface {
	// Replace points path at target, replacing an existing link.
	Replace(target, path string) error
	// Remove deletes the link at path. A missing link is not an error.
	Remove(path string) error
	// Target returns what the link at path points to.
	Target(path string) (string, error)
	// IsLink reports whether path is a link this Linker manages.
	IsLink(path string) bool
}

func removeLink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}
