package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/boardlink/internal/config/loader"
	"github.com/dshills/boardlink/internal/logging"
)

// DefaultFile is read when no file is given and it exists.
const DefaultFile = "boardlink.toml"

// StdinFile as the file path reads the configuration from standard input.
const StdinFile = "-"

// maxIncludeDepth limits nested @include directives.
const maxIncludeDepth = 8

// Config is the complete boardlink configuration.
type Config struct {
	Logging logging.Config `toml:"logging"`
	Board   BoardConfig    `toml:"board"`
	Loop    LoopConfig     `toml:"loop"`
	Script  ScriptConfig   `toml:"script"`
	Replay  ReplayConfig   `toml:"replay"`
	Record  RecordConfig   `toml:"record"`
	Monitor MonitorConfig  `toml:"monitor"`
}

// BoardConfig configures the device event hub.
type BoardConfig struct {
	// Name tags log entries and errors of the board.
	Name string `toml:"name"`

	// ConsumerTimeout is the deadline on the context of each synchronous
	// consumer. Zero disables it.
	ConsumerTimeout Duration `toml:"consumer_timeout"`
}

// LoopConfig configures the host event loop.
type LoopConfig struct {
	// QueueSize bounds the number of pending async deliveries.
	QueueSize int `toml:"queue_size"`
}

// ScriptConfig configures the Lua script host.
type ScriptConfig struct {
	// Paths are the scripts run at startup, in order.
	Paths []string `toml:"paths"`

	// Timeout bounds each synchronous script call. Zero disables it.
	Timeout Duration `toml:"timeout"`

	// Allow lists extra modules scripts may require.
	Allow []string `toml:"allow"`
}

// ReplayConfig selects a recording as the transport.
type ReplayConfig struct {
	Path   string `toml:"path"`
	Pacing bool   `toml:"pacing"`
}

// RecordConfig enables capture of every event to a file.
type RecordConfig struct {
	Path    string `toml:"path"`
	Session string `toml:"session"`
}

// MonitorConfig configures the terminal dashboard.
type MonitorConfig struct {
	// Refresh is the redraw interval.
	Refresh Duration `toml:"refresh"`
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Board:   BoardConfig{Name: "board"},
		Loop:    LoopConfig{QueueSize: 1024},
		Script:  ScriptConfig{Timeout: Duration(5 * time.Second)},
		Monitor: MonitorConfig{Refresh: Duration(250 * time.Millisecond)},
	}
}

type options struct {
	fs        loader.FileSystem
	path      string
	required  bool
	envPrefix string
	env       bool
	stdin     io.Reader
}

// Option configures Load.
type Option func(*options)

// WithFile loads path instead of DefaultFile. A missing file is an error.
func WithFile(path string) Option {
	return func(o *options) {
		if path != "" {
			o.path = path
			o.required = true
		}
	}
}

// WithStdin sets the reader used for StdinFile.
func WithStdin(r io.Reader) Option {
	return func(o *options) {
		o.stdin = r
	}
}

// WithFS sets the file system files are read from.
func WithFS(fs loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithoutEnv ignores environment variables.
func WithoutEnv() Option {
	return func(o *options) {
		o.env = false
	}
}

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load(opts ...Option) (*Config, error) {
	o := options{
		fs:        loader.DefaultFS(),
		path:      DefaultFile,
		envPrefix: loader.DefaultEnvPrefix,
		env:       true,
		stdin:     os.Stdin,
	}
	for _, opt := range opts {
		opt(&o)
	}

	merged, err := readFile(o)
	if err != nil {
		return nil, err
	}

	if o.env {
		env, err := loader.NewEnvLoader(o.envPrefix).Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, env)
	}

	cfg := Default()
	if err := cfg.apply(merged); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(o options) (map[string]any, error) {
	files := loader.NewFiles(o.fs, maxIncludeDepth)
	if o.path == StdinFile {
		// includes resolve against the working directory
		return files.ReadFrom(o.stdin, "<stdin>", ".")
	}

	if o.required {
		if _, err := o.fs.Stat(o.path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, o.path)
		}
	}
	return files.Read(o.path)
}

// apply decodes a merged settings map onto c. Keys absent from m keep
// their current values.
func (c *Config) apply(m map[string]any) error {
	if len(m) == 0 {
		return nil
	}

	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding merged config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: unknown keys:\n%s", ErrInvalidConfig, strict.String())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil && !isLevelAlias(c.Logging.Level) {
		return &ValidationError{Path: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "json", "console":
	default:
		return &ValidationError{Path: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	if c.Board.Name == "" {
		return &ValidationError{Path: "board.name", Message: "must not be empty"}
	}
	if c.Board.ConsumerTimeout < 0 {
		return &ValidationError{Path: "board.consumer_timeout", Message: "must not be negative"}
	}
	if c.Loop.QueueSize <= 0 {
		return &ValidationError{Path: "loop.queue_size", Message: "must be positive"}
	}
	if c.Script.Timeout < 0 {
		return &ValidationError{Path: "script.timeout", Message: "must not be negative"}
	}
	if c.Monitor.Refresh <= 0 {
		return &ValidationError{Path: "monitor.refresh", Message: "must be positive"}
	}
	return nil
}

func isLevelAlias(level string) bool {
	switch strings.ToLower(level) {
	case "warning", "none", "off":
		return true
	}
	return false
}

// String renders c as TOML.
func (c *Config) String() string {
	data, err := toml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
