// Package config loads daemon settings from flags, an optional TOML file and
// SENSORPIPE_* environment variables, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/experiment"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/metrics"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"codeberg.org/mutker/sensorpipe/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = "info"
	DefaultEnvPrefix = "SENSORPIPE"
	configName       = "sensorpipe"
)

type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PIDFile         string        `mapstructure:"pid_file"`

	Analysis AnalysisConfig `mapstructure:"analysis"`
	Render   RenderConfig   `mapstructure:"render"`
	TimedRun TimedRunConfig `mapstructure:"timed_run"`
	Source   SourceConfig   `mapstructure:"source"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Session  SessionConfig  `mapstructure:"session"`

	// Experiment is nil when the file has no [experiment] table.
	Experiment *experiment.Definition `mapstructure:"experiment"`
}

type AnalysisConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RenderConfig struct {
	FastInterval time.Duration `mapstructure:"fast_interval"`
	SlowInterval time.Duration `mapstructure:"slow_interval"`
	ActivityStep float64       `mapstructure:"activity_step"`
}

type TimedRunConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	StartDelay time.Duration `mapstructure:"start_delay"`
	StopDelay  time.Duration `mapstructure:"stop_delay"`
	Tick       time.Duration `mapstructure:"tick"`
}

type SourceConfig struct {
	Type     SourceType    `mapstructure:"type"`
	Port     string        `mapstructure:"port"`
	Baud     int           `mapstructure:"baud"`
	Interval time.Duration `mapstructure:"interval"`
	Noise    float64       `mapstructure:"noise"`
}

type RemoteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type ConsoleConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Keyboard bool `mapstructure:"keyboard"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type SessionConfig struct {
	DBPath string `mapstructure:"db_path"`
	Name   string `mapstructure:"name"`
}

func setDefaults(v *viper.Viper) {
	mc := metrics.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("shutdown_timeout", time.Second)
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), "sensorpipe.pid"))

	v.SetDefault("analysis.interval", 10*time.Millisecond)

	v.SetDefault("render.fast_interval", 40*time.Millisecond)
	v.SetDefault("render.slow_interval", 400*time.Millisecond)
	v.SetDefault("render.activity_step", 0.05)

	v.SetDefault("timed_run.enabled", false)
	v.SetDefault("timed_run.start_delay", time.Duration(0))
	v.SetDefault("timed_run.stop_delay", time.Duration(0))
	v.SetDefault("timed_run.tick", run.DefaultTick)

	v.SetDefault("source.type", string(SourceSimulated))
	v.SetDefault("source.port", "")
	v.SetDefault("source.baud", 115200)
	v.SetDefault("source.interval", 10*time.Millisecond)
	v.SetDefault("source.noise", 0.02)

	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.addr", "127.0.0.1:8080")

	v.SetDefault("console.enabled", true)
	v.SetDefault("console.keyboard", true)

	v.SetDefault("metrics.enabled", mc.Enabled)
	v.SetDefault("metrics.db_path", mc.DBPath)
	v.SetDefault("metrics.batch_size", mc.BatchSize)
	v.SetDefault("metrics.batch_timeout", mc.BatchTimeout)

	v.SetDefault("session.db_path", "")
	v.SetDefault("session.name", session.DefaultName)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)

	fs.String("config", "", "Path to a TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("pid-file", "", "Path to the pid file")
	fs.String("source", string(SourceSimulated), "Sensor source (simulated, serial)")
	fs.String("port", "", "Serial port of the sensor bridge")
	fs.Int("baud", 115200, "Serial baud rate")
	fs.Bool("timed", false, "Start and stop measurements on a timer")
	fs.Duration("start-delay", 0, "Countdown before a timed measurement starts")
	fs.Duration("stop-delay", 0, "Duration of a timed measurement")
	fs.Bool("remote", false, "Serve the remote control HTTP interface")
	fs.String("remote-addr", "127.0.0.1:8080", "Listen address of the remote interface")
	fs.Bool("console", true, "Draw the console status view")
	fs.Bool("metrics", false, "Record pipeline metrics")
	fs.String("metrics-db", "", "Path to the metrics database")
	fs.String("session-db", "", "Path to the session database; enables save and restore")
	fs.String("session-name", session.DefaultName, "Name of the saved session")

	return fs
}

// flagKeys maps flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"pid-file":     "pid_file",
	"source":       "source.type",
	"port":         "source.port",
	"baud":         "source.baud",
	"timed":        "timed_run.enabled",
	"start-delay":  "timed_run.start_delay",
	"stop-delay":   "timed_run.stop_delay",
	"remote":       "remote.enabled",
	"remote-addr":  "remote.addr",
	"console":      "console.enabled",
	"metrics":      "metrics.enabled",
	"metrics-db":   "metrics.db_path",
	"session-db":   "session.db_path",
	"session-name": "session.name",
}

// Load parses args (without the program name) and builds the configuration.
// pflag.ErrHelp is returned unwrapped when -h or --help is given.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix:  DefaultEnvPrefix,
		searchDirs: defaultSearchDirs(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if path == "" {
		path = o.configPath
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		for _, dir := range o.searchDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			logger.Debug().Msg("No configuration file found, using defaults")
			return nil
		}
		return errFactory.WithData(errors.ErrReadConfig, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}

	logger.Debug().Str("path", v.ConfigFileUsed()).Msg("Loaded configuration file")
	return nil
}

func defaultSearchDirs() []string {
	dirs := []string{"/etc/sensorpipe"}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "sensorpipe"))
	}
	return dirs
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	intervals := []struct {
		field string
		value time.Duration
	}{
		{"analysis.interval", c.Analysis.Interval},
		{"render.fast_interval", c.Render.FastInterval},
		{"render.slow_interval", c.Render.SlowInterval},
		{"timed_run.tick", c.TimedRun.Tick},
		{"shutdown_timeout", c.ShutdownTimeout},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, struct {
				Field string
				Value string
			}{
				Field: iv.field,
				Value: iv.value.String(),
			})
		}
	}

	if c.Render.ActivityStep <= 0 || c.Render.ActivityStep > 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value float64
		}{
			Field: "render.activity_step",
			Value: c.Render.ActivityStep,
		})
	}

	if err := c.RunTimedRun().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if !c.Source.Type.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{
			Field: "source.type",
			Value: c.Source.Type.String(),
		})
	}
	if c.Source.Type == SourceSerial && c.Source.Port == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "source.port is required for the serial source")
	}
	if c.Source.Type == SourceSimulated && c.Source.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Field string
			Value string
		}{
			Field: "source.interval",
			Value: c.Source.Interval.String(),
		})
	}

	if c.Remote.Enabled && c.Remote.Addr == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "remote.addr is required when remote is enabled")
	}

	if err := c.MetricsConfig().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if c.Session.DBPath != "" && c.Session.Name == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "session.name is required when session.db_path is set")
	}

	return nil
}

// ExperimentDefinition returns the configured experiment, or the built-in
// one when none is configured.
func (c *Config) ExperimentDefinition() experiment.Definition {
	if c.Experiment == nil {
		return experiment.Default()
	}
	return *c.Experiment
}

func (c *Config) RunTimedRun() run.TimedRun {
	return run.TimedRun{
		Enabled:    c.TimedRun.Enabled,
		StartDelay: c.TimedRun.StartDelay,
		StopDelay:  c.TimedRun.StopDelay,
	}
}

func (c *Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:      c.Metrics.Enabled,
		DBPath:       c.Metrics.DBPath,
		BatchSize:    c.Metrics.BatchSize,
		BatchTimeout: c.Metrics.BatchTimeout,
	}
}

func (c *Config) SessionConfig() session.Config {
	return session.Config{
		DBPath: c.Session.DBPath,
		Name:   c.Session.Name,
	}
}
