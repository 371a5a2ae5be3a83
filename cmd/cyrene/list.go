// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type listConfig struct {
	long bool
}

func newListCmd(deps *Deps) *cobra.Command {
	cfg := &listConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed apps and their active versions",
		Args:  cobra.NoArgs,
		RunE: withApp(deps, func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			return runList(cmd.OutOrStdout(), a, cfg)
		}),
	}
	cmd.Flags().BoolVarP(&cfg.long, "long", "l", false, "list every installed version with its path")
	return cmd
}

func runList(w io.Writer, a *app, cfg *listConfig) error {
	apps, err := a.installer.Apps()
	if err != nil {
		return err
	}

	t := newTable(w)
	if cfg.long {
		t.AppendHeader(table.Row{"App", "Version", "Active", "Path"})
	} else {
		t.AppendHeader(table.Row{"App", "Active", "Installed"})
	}
	for _, name := range apps {
		installed, err := a.installer.ListInstalled(name)
		if err != nil {
			return err
		}
		if cfg.long {
			for _, iv := range installed {
				t.AppendRow(table.Row{name, iv.Version, mark(iv.Active), a.installer.VersionDir(name, iv.Version)})
			}
			continue
		}
		active := "-"
		for _, iv := range installed {
			if iv.Active {
				active = iv.Version
			}
		}
		t.AppendRow(table.Row{name, active, len(installed)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: cfg.long}})
	t.Render()
	return nil
}

type versionsConfig struct {
	long    bool
	refresh bool
}

func newVersionsCmd(deps *Deps) *cobra.Command {
	cfg := &versionsConfig{}

	cmd := &cobra.Command{
		Use:   "versions <app>",
		Short: "List the versions a plugin offers",
		Long: `List the versions the app's plugin offers, in the plugin's order with the
preferred version first. Lists are cached; --refresh asks the plugin again.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runVersions(ctx, cmd.OutOrStdout(), a, args[0], cfg)
		}),
	}
	cmd.Flags().BoolVarP(&cfg.long, "long", "l", false, "show which versions are installed and active")
	cmd.Flags().BoolVar(&cfg.refresh, "refresh", false, "ignore the cached list")
	return cmd
}

func runVersions(ctx context.Context, w io.Writer, a *app, name string, cfg *versionsConfig) error {
	available, err := a.catalog.Available(ctx, name, cfg.refresh)
	if err != nil {
		return err
	}
	if !cfg.long {
		for _, v := range available {
			if _, err := fmt.Fprintln(w, v); err != nil {
				return err
			}
		}
		return nil
	}

	current, err := a.installer.Current(name)
	if err != nil {
		return err
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Version", "Installed", "Active"})
	for _, v := range available {
		t.AppendRow(table.Row{v, mark(a.installer.IsInstalled(name, v)), mark(v == current)})
	}
	t.Render()
	return nil
}

func newRefreshCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <app>...",
		Short: "Refresh cached version lists",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				available, err := a.catalog.Available(ctx, name, true)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %d versions\n", name, len(available)); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}
