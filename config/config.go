// Package config loads engine settings from files, the environment and
// command line flags through viper.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the engine reads, e.g.
// SCRIPTENV_MAX_CACHE_SIZE.
const EnvPrefix = "SCRIPTENV"

// Config holds the engine settings.
type Config struct {
	// MaxCacheSize bounds each of the two compiled-unit caches.
	MaxCacheSize int `mapstructure:"max_cache_size"`

	// OptimizationLevel is the level scripts are first compiled at.
	OptimizationLevel int `mapstructure:"optimization_level"`

	// OptimizationFloor is the lowest level failover may reach.
	OptimizationFloor int `mapstructure:"optimization_floor"`

	// Failover retries failed compilations at lower levels.
	Failover bool `mapstructure:"failover"`

	// ShareScopes runs scripts in children of shared sealed scopes instead
	// of building a fresh scope per execution.
	ShareScopes bool `mapstructure:"share_scopes"`

	// CompileScripts enables caching of compiled units.
	CompileScripts bool `mapstructure:"compile_scripts"`

	// Debugger starts the engine with a debugger attached, which disables
	// caching.
	Debugger bool `mapstructure:"debugger"`

	LogLevel string `mapstructure:"log_level"`

	// Loader settings used by the command line tool.
	ScriptDir     string `mapstructure:"script_dir"`
	PostgresURL   string `mapstructure:"postgres_url"`
	PostgresTable string `mapstructure:"postgres_table"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Prefix      string `mapstructure:"s3_prefix"`

	// Workers bounds the concurrency of batch runs.
	Workers int `mapstructure:"workers"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		MaxCacheSize:      200,
		OptimizationLevel: 1,
		OptimizationFloor: -1,
		Failover:          true,
		ShareScopes:       true,
		CompileScripts:    true,
		Debugger:          false,
		LogLevel:          "info",
		ScriptDir:         ".",
		PostgresTable:     "scripts",
		Workers:           4,
	}
}

// SetDefaults registers the defaults with v. Every key must have a default
// for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("max_cache_size", d.MaxCacheSize)
	v.SetDefault("optimization_level", d.OptimizationLevel)
	v.SetDefault("optimization_floor", d.OptimizationFloor)
	v.SetDefault("failover", d.Failover)
	v.SetDefault("share_scopes", d.ShareScopes)
	v.SetDefault("compile_scripts", d.CompileScripts)
	v.SetDefault("debugger", d.Debugger)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("script_dir", d.ScriptDir)
	v.SetDefault("postgres_url", d.PostgresURL)
	v.SetDefault("postgres_table", d.PostgresTable)
	v.SetDefault("s3_bucket", d.S3Bucket)
	v.SetDefault("s3_prefix", d.S3Prefix)
	v.SetDefault("workers", d.Workers)
}

// New returns a viper instance with defaults and environment binding set
// up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v, if given, and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.MaxCacheSize < 1 {
		result = multierror.Append(result, fmt.Errorf("max_cache_size must be positive, got %d", c.MaxCacheSize))
	}
	if c.OptimizationFloor > c.OptimizationLevel {
		result = multierror.Append(result, fmt.Errorf("optimization_floor %d is above optimization_level %d",
			c.OptimizationFloor, c.OptimizationLevel))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if _, err := c.Level(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
