// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/reconcile"
)

func newLinkCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "link <app> <version>",
		Short: "Make an installed version active",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			app, ver := args[0], args[1]
			if err := a.installer.Link(ctx, app, ver); err != nil {
				return err
			}
			lock, err := a.locks.Active()
			if err != nil {
				return err
			}
			reconcile.Record(lock, app, ver, reconcile.RecordOptions{})
			if err := lock.Save(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now active\n", app, ver)
			return err
		}),
	}
}

func newUnlinkCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <app>",
		Short: "Remove an app's binaries from PATH, keeping its versions",
		Long: `Remove the binary links and the active version of an app. Installed
versions stay; the app's lockfile entry is removed so load does not link it
again.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(deps, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			if err := a.installer.Unlink(ctx, args[0]); err != nil {
				return err
			}
			lock, err := a.locks.Active()
			if err != nil {
				return err
			}
			reconcile.Forget(lock, args[0])
			return lock.Save()
		}),
	}
}
