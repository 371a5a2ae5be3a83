// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cyrene-tools/cyrene/internal/batch"
	"github.com/cyrene-tools/cyrene/internal/catalog"
	"github.com/cyrene-tools/cyrene/internal/config"
	"github.com/cyrene-tools/cyrene/internal/fetch"
	"github.com/cyrene-tools/cyrene/internal/install"
	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/logging"
	"github.com/cyrene-tools/cyrene/internal/plugin"
	"github.com/cyrene-tools/cyrene/internal/plugin/capability"
	"github.com/cyrene-tools/cyrene/internal/plugin/hostfunc"
	pluginlua "github.com/cyrene-tools/cyrene/internal/plugin/lua"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

// Deps contains injectable dependencies for all commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// Transport serves plugin downloads and HTTP reads.
	// Default: fetch.New
	Transport hostfunc.Transport

	// Executable locates the running binary.
	// Default: os.Executable
	Executable func() (string, error)

	// LookupEnv reads environment variables.
	// Default: os.LookupEnv
	LookupEnv func(string) (string, bool)

	// Getwd returns the directory holding the project lockfile.
	// Default: os.Getwd
	Getwd func() (string, error)
}

func (d Deps) withDefaults() Deps {
	if d.Executable == nil {
		d.Executable = os.Executable
	}
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
	if d.Getwd == nil {
		d.Getwd = os.Getwd
	}
	return d
}

// defaultGrants lets plugins without configured grants use every host function.
var defaultGrants = []string{"**"}

// app holds the services one command invocation works with.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	plugins   *plugin.Manager
	catalog   *catalog.Catalog
	installer *install.Manager
	locks     *lockfile.Store
}

func newApp(cmd *cobra.Command, deps Deps) (*app, error) {
	cfg, err := config.Load(cmd.Flags(),
		config.WithEnv(deps.LookupEnv),
		config.WithExecutable(deps.Executable),
	)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, oops.Code(config.CodeInvalid).Wrap(err)
	}
	logger := logging.Setup("cyrene", version, cfg.LogFormat, level, cmd.ErrOrStderr())

	reg := prometheus.NewRegistry()
	plugin.RegisterMetrics(reg)
	install.RegisterMetrics(reg)
	batch.RegisterMetrics(reg)

	enforcer := capability.NewEnforcer()
	if err := enforcer.SetDefaults(defaultGrants); err != nil {
		return nil, oops.Code(config.CodeInvalid).Wrap(err)
	}
	if err := enforcer.Configure(cfg.Grants); err != nil {
		return nil, oops.Code(config.CodeInvalid).With("key", config.KeyGrants).Wrap(err)
	}

	transport := deps.Transport
	if transport == nil {
		transport = fetch.New(fetch.WithLogger(logger), fetch.WithUserAgent("cyrene/"+version))
	}
	funcs := hostfunc.New(enforcer, hostfunc.WithTransport(transport), hostfunc.WithLogger(logger))
	plugins := plugin.NewManager(cfg.PluginsDir, pluginlua.NewHostWithFunctions(funcs), plugin.WithLogger(logger))

	wd, err := deps.Getwd()
	if err != nil {
		return nil, oops.Wrapf(err, "determine working directory")
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		plugins:  plugins,
		catalog: catalog.New(catalog.FromPlugins(plugins), cfg.CacheDir,
			catalog.WithTTL(cfg.CacheTTL()),
			catalog.WithLogger(logger),
		),
		installer: install.NewManager(install.Config{
			AppsDir:              cfg.AppsDir,
			InstallDir:           cfg.InstallDir,
			DownloadsDir:         cfg.DownloadsDir(),
			SelfName:             cfg.SelfName,
			InstallDirOverridden: cfg.InstallDirOverridden,
		}, install.FromManager(plugins),
			install.WithExecutable(deps.Executable),
			install.WithLogger(logger),
		),
		locks: lockfile.NewStore(cfg.ConfigDir, wd),
	}, nil
}

// close releases plugin states and writes the metrics textfile when one is
// configured.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.plugins.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if path := a.cfg.MetricsTextfile; path != "" {
		if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
			errs = append(errs, oops.With("path", path).Wrapf(err, "write metrics textfile"))
		}
	}
	return errors.Join(errs...)
}

// runner adapts an app-level command body to cobra, building the app first
// and closing it afterwards.
type runner func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error

func withApp(deps *Deps, fn runner) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, *deps)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		runErr := fn(ctx, cmd, a, args)
		if err := a.close(ctx); err != nil {
			errutil.LogWarn(a.logger, "cleanup failed", err)
		}
		return runErr
	}
}
