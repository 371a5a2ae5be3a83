// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/plugin"
)

func newPluginsCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List available plugins and the hooks they implement",
		Long: `List every plugin script in the plugins directory with the hooks it
implements. Plugins with a current_version hook also show the version the
tool reports about itself.`,
		Args: cobra.NoArgs,
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			return runPlugins(ctx, cmd.OutOrStdout(), a)
		}),
	}
}

func runPlugins(ctx context.Context, w io.Writer, a *app) error {
	names, err := a.plugins.Discover(ctx)
	if err != nil {
		return err
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Plugin", "Hooks", "Reports"})
	for _, name := range names {
		p, err := a.plugins.Get(ctx, name)
		if err != nil {
			// A broken script should not hide the others.
			a.logger.Warn("cannot load plugin", "plugin", name, "error", err)
			t.AppendRow(table.Row{name, "(invalid)", ""})
			continue
		}
		hooks := make([]string, 0, len(p.Capabilities()))
		for _, h := range p.Capabilities().List() {
			hooks = append(hooks, string(h))
		}
		reported := ""
		if p.Supports(plugin.HookCurrentVersion) {
			if reported, err = p.CurrentVersion(ctx); err != nil {
				a.logger.Warn("current_version failed", "plugin", name, "error", err)
				reported = "?"
			}
		}
		t.AppendRow(table.Row{name, strings.Join(hooks, ","), reported})
	}
	t.Render()
	return nil
}
