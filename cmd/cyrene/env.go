// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newEnvCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print shell code that puts the install directory on PATH",
		Long:  `Print a POSIX shell line for eval "$(cyrene env)".`,
		Args:  cobra.NoArgs,
		RunE: withApp(deps, func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "export PATH=%q\n", a.cfg.InstallDir+":$PATH")
			return err
		}),
	}
}
