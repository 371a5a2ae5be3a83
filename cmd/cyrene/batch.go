// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/batch"
)

func newInstallCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "install <app>[@<version>]...",
		Short: "Install apps and make them active",
		Long: `Install the given apps. Without a version the newest version the plugin
lists is installed. It is linked when the app has no active version yet or
when a version was given explicitly.

A version may be exact (22.3.0), a major line (22, or 0.4 for 0.x tools),
"latest", or a semver range (^1.2).`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runBatch(ctx, cmd, a, batch.OpInstall, args)
		}),
	}
}

func newUpgradeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [<app>[@<version>]...]",
		Short: "Upgrade apps to the newest allowed version",
		Long: `Upgrade apps to the newest version within the major line of the active
version, or to the newest version at all when the lockfile entry allows
major drift. The replaced version is removed. Without arguments every
linked or locked app is upgraded; apps that were unlinked stay as they are.`,
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runBatch(ctx, cmd, a, batch.OpUpgrade, args)
		}),
	}
}

func newUninstallCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <app>[@<version>]...",
		Short: "Remove installed versions",
		Long: `Remove installed versions of apps. Without a version every installed
version is removed along with the app's lockfile entry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runBatch(ctx, cmd, a, batch.OpUninstall, args)
		}),
	}
}

func runBatch(ctx context.Context, cmd *cobra.Command, a *app, op batch.Op, args []string) error {
	targets, err := batch.ParseTargets(args)
	if err != nil {
		return err
	}
	lock, err := a.locks.Active()
	if err != nil {
		return err
	}

	progress := &progressWriter{w: cmd.ErrOrStderr()}
	orch := batch.New(a.catalog, a.installer, lock,
		batch.WithWorkers(a.cfg.Workers),
		batch.WithObserver(progress.observe),
		batch.WithLogger(a.logger),
	)
	report := orch.Run(ctx, op, targets)

	writeReport(cmd.OutOrStdout(), report)
	return report.Err()
}

// progressWriter prints stage changes as targets move through a batch.
type progressWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressWriter) observe(t batch.Target, s batch.State) {
	if s == batch.StateQueued || s.Terminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "==> %s: %s\n", t, s)
}

func writeReport(w io.Writer, report *batch.Report) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Target", "State", "Version", "Detail"})
	for _, o := range report.Outcomes {
		t.AppendRow(table.Row{o.Target.String(), string(o.State), o.Version, outcomeDetail(o)})
	}
	t.Render()
}

func outcomeDetail(o batch.Outcome) string {
	var parts []string
	switch {
	case o.State == batch.StateFailed:
		msg := fmt.Sprintf("failed while %s", o.FailedAt)
		if o.Code != "" {
			msg += " [" + o.Code + "]"
		}
		if o.Err != nil {
			msg += ": " + o.Err.Error()
		}
		return msg
	case o.Unchanged:
		parts = append(parts, "unchanged")
	case o.Previous != "" && o.Previous != o.Version:
		parts = append(parts, "was "+o.Previous)
	}
	if len(o.Removed) > 0 {
		parts = append(parts, "removed "+strings.Join(o.Removed, ", "))
	}
	return strings.Join(parts, "; ")
}
