// Package config provides configuration management for jadewatch.
//
// Configuration is loaded from four sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (JADEWATCH_ prefix)
//  3. Config file (.jadewatch.yaml)
//  4. Built-in defaults mirroring the classic Jade build setup
//
// A loaded Config is never mutated. Tasks receive copies of the sections
// they need.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Task names understood by the runner. They are duplicated here rather than
// imported from the task package to keep config free of dependencies.
const (
	TaskCompile = "jade:compile"
	TaskWatch   = "watch"
)

// Defaults for the compile and watch tasks.
const (
	DefaultSource         = "./src/index.jade"
	DefaultDestination    = "./index.html"
	DefaultLiveReloadAddr = ":35729"
	DefaultDebounce       = 100 * time.Millisecond
	DefaultMetadata       = "package.json"
)

// DefaultInclude and DefaultExclude are the template patterns watched when
// nothing else is configured.
var (
	DefaultInclude = []string{"**/*.jade"}
	DefaultExclude = []string{"layout/*.jade", "node_modules/**/*.jade"}
)

// CompileTaskConfig maps one template document to one HTML file.
type CompileTaskConfig struct {
	// Source is the template document to compile.
	Source string `mapstructure:"src" json:"src"`

	// Destination is overwritten on every successful run.
	Destination string `mapstructure:"dest" json:"dest"`

	// Pretty enables indented HTML output.
	Pretty bool `mapstructure:"pretty" json:"pretty"`
}

// WatchTaskConfig describes which files to watch and what to run.
type WatchTaskConfig struct {
	// Include lists glob patterns, relative to Root, that trigger tasks.
	Include []string `mapstructure:"include" json:"include"`

	// Exclude lists glob patterns that never trigger tasks, even when they
	// also match Include.
	Exclude []string `mapstructure:"exclude" json:"exclude"`

	// Root is the directory the patterns are evaluated against.
	Root string `mapstructure:"root" json:"root"`

	// LiveReload enables the live-reload server.
	LiveReload bool `mapstructure:"livereload" json:"livereload"`

	// LiveReloadAddr is the listen address of the live-reload server.
	LiveReloadAddr string `mapstructure:"livereload-addr" json:"livereloadAddr"`

	// Debounce is the quiet period before a batch of events triggers tasks.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce"`

	// Tasks is the ordered list of task names run on each change.
	Tasks []string `mapstructure:"tasks" json:"tasks"`

	// RunOnStart runs the tasks once before waiting for the first event.
	RunOnStart bool `mapstructure:"run-on-start" json:"runOnStart"`
}

// Config represents the global configuration for jadewatch.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Metadata is the project metadata file read once at start.
	Metadata string `mapstructure:"metadata" json:"metadata"`

	Compile CompileTaskConfig `mapstructure:"compile" json:"compile"`
	Watch   WatchTaskConfig   `mapstructure:"watch" json:"watch"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  LogLevelInfo,
		LogFormat: LogFormatText,
		Metadata:  DefaultMetadata,
		Compile: CompileTaskConfig{
			Source:      DefaultSource,
			Destination: DefaultDestination,
			Pretty:      true,
		},
		Watch: WatchTaskConfig{
			Include:        append([]string(nil), DefaultInclude...),
			Exclude:        append([]string(nil), DefaultExclude...),
			Root:           ".",
			LiveReload:     true,
			LiveReloadAddr: DefaultLiveReloadAddr,
			Debounce:       DefaultDebounce,
			Tasks:          []string{TaskCompile},
		},
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	if err := c.Compile.Validate(); err != nil {
		return err
	}

	return c.Watch.Validate()
}

// Validate checks the compile task section.
func (c CompileTaskConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return errors.New("compile: source path must not be empty")
	}

	if strings.TrimSpace(c.Destination) == "" {
		return errors.New("compile: destination path must not be empty")
	}

	return nil
}

// Validate checks the watch task section.
func (w WatchTaskConfig) Validate() error {
	if len(w.Include) == 0 {
		return errors.New("watch: at least one include pattern is required")
	}

	for _, p := range append(append([]string(nil), w.Include...), w.Exclude...) {
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "!")) {
			return fmt.Errorf("watch: invalid pattern %q", p)
		}
	}

	if w.Debounce < 0 {
		return fmt.Errorf("watch: debounce must not be negative, got %s", w.Debounce)
	}

	if w.LiveReload && w.LiveReloadAddr == "" {
		return errors.New("watch: livereload-addr must be set when livereload is enabled")
	}

	if len(w.Tasks) == 0 {
		return errors.New("watch: at least one task is required")
	}

	for _, t := range w.Tasks {
		switch t {
		case TaskCompile:
			// valid
		case TaskWatch, "watch:jade":
			return fmt.Errorf("watch: task %q cannot be triggered from watch", t)
		default:
			return fmt.Errorf("watch: unknown task %q", t)
		}
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Watch.Include, cfg.Watch.Exclude = splitNegated(cfg.Watch.Include, cfg.Watch.Exclude)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// splitNegated moves "!pattern" entries from the include list into the
// exclude list.
func splitNegated(include, exclude []string) ([]string, []string) {
	inc := make([]string, 0, len(include))
	exc := append([]string(nil), exclude...)

	for _, p := range include {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			exc = append(exc, neg)
			continue
		}

		inc = append(inc, p)
	}

	return inc, exc
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("no-color", false)
	v.SetDefault("quiet", false)
	v.SetDefault("metadata", d.Metadata)

	v.SetDefault("compile.src", d.Compile.Source)
	v.SetDefault("compile.dest", d.Compile.Destination)
	v.SetDefault("compile.pretty", d.Compile.Pretty)

	v.SetDefault("watch.include", d.Watch.Include)
	v.SetDefault("watch.exclude", d.Watch.Exclude)
	v.SetDefault("watch.root", d.Watch.Root)
	v.SetDefault("watch.livereload", d.Watch.LiveReload)
	v.SetDefault("watch.livereload-addr", d.Watch.LiveReloadAddr)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.tasks", d.Watch.Tasks)
	v.SetDefault("watch.run-on-start", false)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("JADEWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".jadewatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "jadewatch"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// flagKeys maps task flag names to their nested config keys. Flags not
// listed here bind under their own name.
var flagKeys = map[string]string{
	"src":             "compile.src",
	"dest":            "compile.dest",
	"pretty":          "compile.pretty",
	"include":         "watch.include",
	"exclude":         "watch.exclude",
	"root":            "watch.root",
	"livereload":      "watch.livereload",
	"livereload-addr": "watch.livereload-addr",
	"debounce":        "watch.debounce",
	"run-on-start":    "watch.run-on-start",
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Task flags bind to nested keys.
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
