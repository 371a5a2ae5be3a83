// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/config"
)

// NewRootCmd creates the root command for the cyrene CLI.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(Deps{})
}

// NewRootCmdWithDeps creates the root command with injected dependencies.
func NewRootCmdWithDeps(deps Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "cyrene",
		Short: "cyrene - install and switch between versions of developer tools",
		Long: `cyrene installs several versions of the same tool side by side and
makes one of them active by linking its binaries into a directory on PATH.
Tools are described by Lua plugins in the plugins directory.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newInstallCmd(&deps))
	cmd.AddCommand(newUpgradeCmd(&deps))
	cmd.AddCommand(newUninstallCmd(&deps))
	cmd.AddCommand(newLinkCmd(&deps))
	cmd.AddCommand(newUnlinkCmd(&deps))
	cmd.AddCommand(newListCmd(&deps))
	cmd.AddCommand(newVersionsCmd(&deps))
	cmd.AddCommand(newRefreshCmd(&deps))
	cmd.AddCommand(newPluginsCmd(&deps))
	cmd.AddCommand(newLoadCmd(&deps))
	cmd.AddCommand(newEnvCmd(&deps))

	return cmd
}
