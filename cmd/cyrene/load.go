// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/reconcile"
)

type loadConfig struct {
	useDefault bool
}

func newLoadCmd(deps *Deps) *cobra.Command {
	cfg := &loadConfig{}

	cmd := &cobra.Command{
		Use:   "load [<lockfile>]",
		Short: "Install and link the versions a lockfile names",
		Long: `Make a lockfile the active one, then install and link the version every
entry resolves to. Without an argument the cyrene.toml in the current
directory is used; -d switches back to the default lockfile. Entries no
version satisfies any more are removed from the lockfile.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(deps, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runLoad(ctx, cmd.OutOrStdout(), a, cfg, args)
		}),
	}
	cmd.Flags().BoolVarP(&cfg.useDefault, "default", "d", false, "load the default lockfile")
	return cmd
}

func runLoad(ctx context.Context, w io.Writer, a *app, cfg *loadConfig, args []string) error {
	var (
		f   *lockfile.File
		err error
	)
	switch {
	case cfg.useDefault && len(args) > 0:
		return oops.Errorf("--default and a lockfile path are mutually exclusive")
	case cfg.useDefault:
		f, err = a.locks.UseDefault()
	default:
		path := a.locks.ProjectPath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, statErr := os.Stat(path); statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				return oops.Code(lockfile.CodeIO).With("path", path).Errorf("no lockfile at %s", path)
			}
			return oops.Code(lockfile.CodeIO).With("path", path).Wrap(statErr)
		}
		f, err = a.locks.Use(path)
	}
	if err != nil {
		return err
	}

	report := reconcile.New(a.catalog, a.installer,
		reconcile.WithWorkers(a.cfg.Workers),
		reconcile.WithLogger(a.logger),
	).Load(ctx, f)
	saveErr := f.Save()

	t := newTable(w)
	t.AppendHeader(table.Row{"App", "Spec", "Version", "Detail"})
	for _, res := range report.Results {
		t.AppendRow(table.Row{res.App, res.Spec.String(), res.Version, resultDetail(res)})
	}
	t.Render()

	if err := report.Err(); err != nil {
		return err
	}
	return saveErr
}

func resultDetail(res reconcile.Result) string {
	switch {
	case res.Pruned:
		return "removed from lockfile: " + res.Err.Error()
	case res.Err != nil:
		return "failed: " + res.Err.Error()
	case res.Installed && res.Linked:
		return "installed and linked"
	case res.Installed:
		return "installed"
	case res.Linked:
		return "linked"
	}
	return "up to date"
}
