// Package config loads and persists the tool configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (KEEPERPERMS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
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

// Config is the full tool configuration.
type Config struct {
	// RootFolderName is the private root container every mirrored team
	// folder lives under.
	RootFolderName string `mapstructure:"root_folder_name" validate:"required" yaml:"root_folder_name"`

	// IncludedTeams restricts provisioning to these team UIDs. Empty
	// means every team column in the CSV is considered.
	IncludedTeams []string `mapstructure:"included_teams" yaml:"included_teams,omitempty"`

	// IncludedFolders restricts template generation to records whose
	// folder path starts with one of these paths. Empty means all records.
	IncludedFolders []string `mapstructure:"included_folders" yaml:"included_folders,omitempty"`

	// ExcludedFolders are backend folder UIDs the planner must never
	// touch, regardless of CSV content.
	ExcludedFolders []string `mapstructure:"excluded_folders" yaml:"excluded_folders,omitempty"`

	// Strict promotes unknown-team warnings to validation errors.
	Strict bool `mapstructure:"strict" yaml:"strict"`

	// MaxRecords refuses an apply whose CSV exceeds this row count,
	// unless forced. Zero disables the guard.
	MaxRecords int `mapstructure:"max_records" validate:"gte=0" yaml:"max_records"`

	// Vault configures the backend adapter.
	Vault VaultConfig `mapstructure:"vault" yaml:"vault"`

	// Checkpoint configures the durable run ledger.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	// Apply tunes the executor.
	Apply ApplyConfig `mapstructure:"apply" yaml:"apply"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// VaultConfig configures the backend adapter.
type VaultConfig struct {
	// Path is the vault state file the file-backed adapter persists to.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	// Path is the directory holding the checkpoint database.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// ApplyConfig tunes plan execution.
type ApplyConfig struct {
	// Workers bounds the number of team sequences executed concurrently.
	Workers int `mapstructure:"workers" validate:"gte=1" yaml:"workers"`

	// MaxRetries is the retry budget per backend call.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`

	// RetryBackoff is the initial delay before a retry; doubles per attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gt=0" yaml:"retry_backoff"`

	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0" yaml:"call_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs go: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  keeperperms config init\n\n"+
				"Or specify a custom config file:\n"+
				"  keeperperms <command> --config /path/to/config.yaml",
				DefaultConfigPath())
		}
		configPath = DefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  keeperperms config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: KEEPERPERMS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("KEEPERPERMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if present. A missing file
// is not an error; the caller falls back to defaults.
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

// durationDecodeHook converts config strings like "30s" or "5m" into
// time.Duration values.
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

// configDir returns the configuration directory. Uses XDG_CONFIG_HOME if
// set, otherwise ~/.config, falling back to the current directory.
func configDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "keeperperms")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "keeperperms")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}

// ConfigDir returns the configuration directory (exposed for config init).
func ConfigDir() string {
	return configDir()
}
