// Package config loads the interpreter's server configuration from a YAML
// file, TRIPWIRE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Functions FunctionsConfig `mapstructure:"functions"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Specs     SpecsConfig     `mapstructure:"specs"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address of the HTTP API.
	Addr string `mapstructure:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	// Path is the sqlite database file. Empty keeps everything in memory.
	Path string `mapstructure:"path"`
}

// NATSConfig holds the messaging connection. An empty URL disables both
// the NATS sink and ingestion.
type NATSConfig struct {
	URL          string `mapstructure:"url"`
	Subject      string `mapstructure:"subject"`
	BatchSubject string `mapstructure:"batch_subject"`
	Queue        string `mapstructure:"queue"`
	JetStream    bool   `mapstructure:"jetstream"`
}

// FunctionsConfig holds the function-invocation endpoint.
type FunctionsConfig struct {
	// BaseURL receives lambda actions as POST <BaseURL>/<function name>.
	// Empty disables the function sink.
	BaseURL string `mapstructure:"base_url"`

	// MaxElapsed bounds retries of one invocation.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

// DispatchConfig sizes the action dispatcher.
type DispatchConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// EngineConfig tunes evaluation.
type EngineConfig struct {
	// MaxLoopDepth bounds chains of messages sent back to inputs by actions.
	MaxLoopDepth int `mapstructure:"max_loop_depth"`
}

// LoggingConfig sets the process log level: debug, info, warn or error.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SpecsConfig locates model and input definitions loaded at startup.
type SpecsConfig struct {
	Dir string `mapstructure:"dir"`
}

// FileName is the configuration file looked up when none is given.
const FileName = "tripwire"

// EnvPrefix prefixes environment overrides, e.g. TRIPWIRE_SERVER_ADDR.
const EnvPrefix = "TRIPWIRE"

// flagKeys binds command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"store":         "store.path",
	"nats-url":      "nats.url",
	"functions-url": "functions.base_url",
	"workers":       "dispatch.workers",
	"queue-size":    "dispatch.queue_size",
	"log-level":     "logging.level",
	"specs":         "specs.dir",
}

// Load reads the configuration. path names the file explicitly; when it
// is empty tripwire.yaml is looked up in the working directory and
// /etc/tripwire, and a missing file is not an error. Flags in flags that
// were set on the command line override every other source.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	configureViper(v, path)

	if err := readConfig(v, path); err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func configureViper(v *viper.Viper, path string) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tripwire/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func readConfig(v *viper.Viper, path string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Debug("config file loaded", "path", v.ConfigFileUsed())
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be positive")
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	if c.Engine.MaxLoopDepth <= 0 {
		return fmt.Errorf("engine.max_loop_depth must be positive")
	}
	if !strings.HasSuffix(c.NATS.Subject, ".>") {
		return fmt.Errorf("nats.subject %q must end in \".>\"", c.NATS.Subject)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.path", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "tripwire.input.>")
	v.SetDefault("nats.batch_subject", "tripwire.batch")
	v.SetDefault("nats.queue", "tripwire")
	v.SetDefault("nats.jetstream", true)

	v.SetDefault("functions.base_url", "")
	v.SetDefault("functions.max_elapsed", 30*time.Second)

	v.SetDefault("dispatch.workers", 8)
	v.SetDefault("dispatch.queue_size", 1024)
	v.SetDefault("dispatch.timeout", 30*time.Second)

	v.SetDefault("engine.max_loop_depth", 100)

	v.SetDefault("logging.level", "info")

	v.SetDefault("specs.dir", "")
}
