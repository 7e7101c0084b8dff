// Package config loads sftpd server configuration from environment
// variables and a YAML file, in that order of precedence, over built-in
// defaults. The only CLI flag involved is --config, which picks the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the sftpd server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (SFTPD_*, highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flag sets a configuration value directly.
type Config struct {
	// Listen is the address the SSH transport binds to, e.g. ":2022".
	Listen string `mapstructure:"listen" yaml:"listen"`

	// HostKeys lists paths to SSH private host keys. If empty, a key is
	// generated in-memory at startup (fine for local testing, not for a
	// deployment that needs a stable host key fingerprint).
	HostKeys []string `mapstructure:"host_keys" yaml:"host_keys"`

	// AuthorizedKeys is the path to an authorized_keys file used for
	// public-key authentication.
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`

	// Backend selects the Filesystem implementation: "mem" or "local".
	Backend string `mapstructure:"backend" validate:"oneof=mem local" yaml:"backend"`

	// Root is the directory the "local" backend is rooted at. Ignored by
	// the "mem" backend.
	Root string `mapstructure:"root" yaml:"root"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is loaded and saved with the rest of the
	// configuration; the serve command does not read it, and shutdown does
	// not wait for in-flight sessions to end.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Listen:          "127.0.0.1:2022",
		Backend:         "mem",
		Logging:         LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Metrics:         MetricsConfig{Enabled: false, Addr: "127.0.0.1:9090"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads configuration from configPath (or, if empty, the default
// location) when that file exists, applies SFTPD_* environment variables on
// top of it, and keeps the defaults for anything neither one sets.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	// Bind every key so SFTPD_* variables apply even when no file is found
	// (AutomaticEnv alone only covers keys viper already knows about).
	for _, key := range []string{
		"listen", "host_keys", "authorized_keys", "backend", "root",
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "metrics.addr", "shutdown_timeout",
	} {
		_ = v.BindEnv(key)
	}

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg := Default()

	if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SFTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets the YAML file and environment variables express
// durations as human-readable strings ("30s", "5m") instead of raw
// nanosecond integers.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sftpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sftpd")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
