// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

// Package config resolves cyrene's settings from defaults, the config file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/cyrene-tools/cyrene/internal/logging"
	"github.com/cyrene-tools/cyrene/internal/xdg"
)

// CodeInvalid marks configuration that cannot be loaded or is out of range.
const CodeInvalid = "CONFIG_INVALID"

// FileName is the config file inside the config directory.
const FileName = "config.yaml"

// Flag and key names.
const (
	KeyConfigFile      = "config"
	KeyAppsDir         = "apps-dir"
	KeyPluginsDir      = "plugins-dir"
	KeyInstallDir      = "install-dir"
	KeyCacheDir        = "cache-dir"
	KeyConfigDir       = "config-dir"
	KeyLogFormat       = "log-format"
	KeyLogLevel        = "log-level"
	KeyWorkers         = "workers"
	KeyVersionsTTL     = "versions-ttl"
	KeySelfName        = "self-name"
	KeyGrants          = "grants"
	KeyMetricsTextfile = "metrics-textfile"
)

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"CYRENE_APPS_DIR":    KeyAppsDir,
	"CYRENE_PLUGINS_DIR": KeyPluginsDir,
	"CYRENE_INSTALL_DIR": KeyInstallDir,
	"CYRENE_CACHE_DIR":   KeyCacheDir,
}

// Config is the resolved configuration. It is built once by Load and passed
// by value or pointer; nothing mutates it afterwards.
type Config struct {
	AppsDir    string `koanf:"apps-dir" json:"apps-dir,omitempty" jsonschema:"description=Directory holding installed app versions"`
	PluginsDir string `koanf:"plugins-dir" json:"plugins-dir,omitempty" jsonschema:"description=Directory holding <app>.lua plugin scripts"`
	InstallDir string `koanf:"install-dir" json:"install-dir,omitempty" jsonschema:"description=Directory where binary links are published; defaults to the directory of the cyrene executable"`
	CacheDir   string `koanf:"cache-dir" json:"cache-dir,omitempty" jsonschema:"description=Directory for downloads and cached version lists"`
	ConfigDir  string `koanf:"config-dir" json:"config-dir,omitempty" jsonschema:"description=Directory holding config.yaml and the default lockfile"`

	LogFormat string `koanf:"log-format" json:"log-format,omitempty" jsonschema:"enum=text,enum=json"`
	LogLevel  string `koanf:"log-level" json:"log-level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	Workers     int    `koanf:"workers" json:"workers,omitempty" jsonschema:"minimum=1,description=Targets processed in parallel"`
	VersionsTTL string `koanf:"versions-ttl" json:"versions-ttl,omitempty" jsonschema:"description=How long cached version lists are served (Go duration)"`
	SelfName    string `koanf:"self-name" json:"self-name,omitempty" jsonschema:"description=App name under which cyrene manages itself"`

	// Grants maps plugin names to capability globs; "*" holds the defaults.
	Grants map[string][]string `koanf:"grants" json:"grants,omitempty" jsonschema:"description=Capability grants per plugin"`

	MetricsTextfile string `koanf:"metrics-textfile" json:"metrics-textfile,omitempty" jsonschema:"description=Write metrics in textfile collector format to this path on exit"`

	// InstallDirOverridden is set when install-dir came from the file, the
	// environment or a flag rather than the executable's location.
	InstallDirOverridden bool `koanf:"-" json:"-"`
}

// DownloadsDir is where artifacts are fetched before installing.
func (c *Config) DownloadsDir() string {
	return filepath.Join(c.CacheDir, "downloads")
}

// CacheTTL returns versions-ttl as a duration. Validate guarantees it parses.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.VersionsTTL)
	if err != nil {
		return 0
	}
	return d
}

// Validate rejects configurations cyrene cannot run with.
func (c *Config) Validate() error {
	dirs := map[string]string{
		KeyAppsDir:    c.AppsDir,
		KeyPluginsDir: c.PluginsDir,
		KeyInstallDir: c.InstallDir,
		KeyCacheDir:   c.CacheDir,
		KeyConfigDir:  c.ConfigDir,
	}
	for key, dir := range dirs {
		if dir == "" {
			return oops.Code(CodeInvalid).With("key", key).Errorf("%s must not be empty", key)
		}
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		return oops.Code(CodeInvalid).With("key", KeyLogFormat).Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return oops.Code(CodeInvalid).With("key", KeyLogLevel).Wrap(err)
	}
	if c.Workers < 1 {
		return oops.Code(CodeInvalid).With("key", KeyWorkers).Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if d, err := time.ParseDuration(c.VersionsTTL); err != nil || d < 0 {
		return oops.Code(CodeInvalid).With("key", KeyVersionsTTL).Errorf("invalid versions-ttl %q", c.VersionsTTL)
	}
	if c.SelfName == "" {
		return oops.Code(CodeInvalid).With("key", KeySelfName).Errorf("self-name must not be empty")
	}
	return nil
}

// RegisterFlags adds the global flags Load reads to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfigFile, "", "config file path (default <config-dir>/"+FileName+")")
	flags.String(KeyAppsDir, "", "directory holding installed apps")
	flags.String(KeyPluginsDir, "", "directory holding plugin scripts")
	flags.String(KeyInstallDir, "", "directory where binary links are published")
	flags.String(KeyCacheDir, "", "directory for downloads and cached version lists")
	flags.String(KeyConfigDir, "", "directory holding the config file and default lockfile")
	flags.String(KeyLogFormat, logging.FormatText, "log format: text or json")
	flags.String(KeyLogLevel, "info", "log level: debug, info, warn or error")
	flags.Int(KeyWorkers, DefaultWorkers, "targets processed in parallel")
}

// DefaultWorkers is the default batch parallelism.
const DefaultWorkers = 4

type loader struct {
	lookupEnv  func(string) (string, bool)
	executable func() (string, error)
}

// Option configures Load.
type Option func(*loader)

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(l *loader) { l.lookupEnv = lookup }
}

// WithExecutable replaces os.Executable when defaulting install-dir.
func WithExecutable(fn func() (string, error)) Option {
	return func(l *loader) { l.executable = fn }
}

// Load resolves the configuration. flags may be nil; when set it must carry the
// flags from RegisterFlags and have been parsed.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	l := &loader{lookupEnv: os.LookupEnv, executable: os.Executable}
	for _, opt := range opts {
		opt(l)
	}

	k := koanf.New(".")
	if err := l.defaults(k); err != nil {
		return nil, err
	}

	configDir := k.String(KeyConfigDir)
	if flags != nil {
		if f := flags.Lookup(KeyConfigDir); f != nil && f.Changed {
			configDir = f.Value.String()
		}
	}
	path, explicit := filepath.Join(configDir, FileName), false
	if flags != nil {
		if f := flags.Lookup(KeyConfigFile); f != nil && f.Value.String() != "" {
			path, explicit = f.Value.String(), true
		}
	}
	if err := loadFile(k, path, explicit); err != nil {
		return nil, err
	}

	for env, key := range envKeys {
		if v, ok := l.lookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code(CodeInvalid).With("env", env).Wrap(err)
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode configuration")
	}

	cfg.InstallDirOverridden = cfg.InstallDir != ""
	if !cfg.InstallDirOverridden {
		exe, err := l.executable()
		if err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "locate executable for install-dir")
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		cfg.InstallDir = filepath.Dir(exe)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *loader) defaults(k *koanf.Koanf) error {
	configDir, err := xdg.ConfigDir()
	if err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	dataDir, err := xdg.DataDir()
	if err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	cacheDir, err := xdg.CacheDir()
	if err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}

	defaults := map[string]any{
		KeyConfigDir:   configDir,
		KeyAppsDir:     filepath.Join(dataDir, "apps"),
		KeyPluginsDir:  filepath.Join(dataDir, "plugins"),
		KeyCacheDir:    cacheDir,
		KeyLogFormat:   logging.FormatText,
		KeyLogLevel:    "info",
		KeyWorkers:     DefaultWorkers,
		KeyVersionsTTL: "1h",
		KeySelfName:    "cyrene",
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return oops.Code(CodeInvalid).With("key", key).Wrap(err)
		}
	}
	return nil
}

// loadFile merges the YAML file at path into k after checking it against
// the config schema. A missing file is only an error when it was named
// explicitly.
func loadFile(k *koanf.Koanf, path string, explicit bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's flags or XDG dirs
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "read config file")
	}
	if err := ValidateFile(data); err != nil {
		return oops.Code(CodeInvalid).With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

