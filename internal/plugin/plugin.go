// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package plugin

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

var tracer = otel.Tracer("github.com/cyrene-tools/cyrene/internal/plugin")

// Plugin is a loaded plugin bound to the host that runs it. Every hook call
// in cyrene goes through its methods regardless of which hooks the script
// implements.
type Plugin struct {
	name string
	path string
	caps Capabilities
	host Host
}

// Name returns the plugin (and app) name.
func (p *Plugin) Name() string { return p.name }

// Path returns the script location.
func (p *Plugin) Path() string { return p.path }

// Capabilities returns the hooks the plugin implements.
func (p *Plugin) Capabilities() Capabilities { return p.caps }

// Supports reports whether the plugin implements hook.
func (p *Plugin) Supports(hook Hook) bool { return p.caps.Has(hook) }

// ListVersions returns the advertised versions, preferred first.
func (p *Plugin) ListVersions(ctx context.Context) ([]string, error) {
	res, err := p.invoke(ctx, HookListVersions, Call{App: p.name})
	if err != nil {
		return nil, err
	}
	if res.List == nil && res.Value != "" {
		return nil, ErrBadResult(p.name, HookListVersions, "a scalar instead of a list")
	}
	return res.List, nil
}

// Fetch downloads the artifact for version into downloadDir and returns its path.
// A hook that returns nothing leaves its artifact as downloadDir itself. An
// artifact outside downloadDir is rejected.
func (p *Plugin) Fetch(ctx context.Context, version, downloadDir string) (string, error) {
	res, err := p.invoke(ctx, HookFetch, Call{App: p.name, Version: version, DownloadDir: downloadDir})
	if err != nil {
		return "", err
	}
	if res.Value == "" {
		return downloadDir, nil
	}
	artifact := res.Value
	if !filepath.IsAbs(artifact) {
		artifact = filepath.Join(downloadDir, artifact)
	}
	rel, err := filepath.Rel(downloadDir, filepath.Clean(artifact))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrBadResult(p.name, HookFetch, "artifact "+res.Value+" is outside the download directory")
	}
	return artifact, nil
}

// Install lays out version into dest from an artifact fetched into
// downloadDir. The hook may read downloadDir and write dest, nothing else.
func (p *Plugin) Install(ctx context.Context, version, artifact, downloadDir, dest string) error {
	_, err := p.invoke(ctx, HookInstall, Call{
		App:         p.name,
		Version:     version,
		Artifact:    artifact,
		Dest:        dest,
		DownloadDir: downloadDir,
	})
	return err
}

// Uninstall runs the plugin's cleanup for an installed version.
func (p *Plugin) Uninstall(ctx context.Context, version, dir string) error {
	_, err := p.invoke(ctx, HookUninstall, Call{App: p.name, Version: version, Dest: dir})
	return err
}

// Binaries maps binary names to paths relative to the version directory.
// Without the hook, the app exposes a single binary bin/<app>.
func (p *Plugin) Binaries(ctx context.Context, version, dir string) (map[string]string, error) {
	if !p.Supports(HookBinaries) {
		return map[string]string{p.name: filepath.Join("bin", p.name)}, nil
	}
	res, err := p.invoke(ctx, HookBinaries, Call{App: p.name, Version: version, Dest: dir})
	if err != nil {
		return nil, err
	}
	bins := make(map[string]string, len(res.Table)+len(res.List))
	for name, rel := range res.Table {
		bins[name] = rel
	}
	// An array entry "bin/node" exposes the binary under its base name.
	for _, rel := range res.List {
		bins[filepath.Base(rel)] = rel
	}
	if len(bins) == 0 {
		return nil, ErrBadResult(p.name, HookBinaries, "no binaries")
	}
	return bins, nil
}

// CurrentVersion asks a self-reporting tool for its version.
func (p *Plugin) CurrentVersion(ctx context.Context) (string, error) {
	res, err := p.invoke(ctx, HookCurrentVersion, Call{App: p.name})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (p *Plugin) invoke(ctx context.Context, hook Hook, call Call) (Result, error) {
	if !p.caps.Has(hook) {
		HookInvocations.WithLabelValues(p.name, string(hook), StatusUnsupported).Inc()
		return Result{}, ErrUnsupportedHook(p.name, hook)
	}

	ctx, span := tracer.Start(ctx, "plugin."+string(hook), trace.WithAttributes(
		attribute.String("plugin", p.name),
		attribute.String("hook", string(hook)),
		attribute.String("version", call.Version),
	))
	defer span.End()

	start := time.Now()
	res, err := p.host.Invoke(ctx, p.name, hook, call)
	HookDuration.WithLabelValues(p.name, string(hook)).Observe(time.Since(start).Seconds())
	if err != nil {
		HookInvocations.WithLabelValues(p.name, string(hook), StatusError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errutil.Code(err) == "" {
			err = ErrScript(p.name, hook, err)
		}
		return Result{}, err
	}
	HookInvocations.WithLabelValues(p.name, string(hook), StatusSuccess).Inc()
	return res, nil
}
