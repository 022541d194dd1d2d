package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Built-in defaults.
const (
	DefaultRootFolderName = "[Perms]"
	DefaultMaxRecords     = 1000

	DefaultWorkers      = 4
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultCallTimeout  = 30 * time.Second
)

// ApplyDefaults fills unspecified fields with defaults. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.RootFolderName == "" {
		cfg.RootFolderName = DefaultRootFolderName
	}
	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	applyVaultDefaults(&cfg.Vault)
	applyCheckpointDefaults(&cfg.Checkpoint)
	applyApplyDefaults(&cfg.Apply)
	applyLoggingDefaults(&cfg.Logging)
}

func applyVaultDefaults(cfg *VaultConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(dataDir(), "vault.yaml")
	}
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.Path == "" {
		cfg.Path = defaultCheckpointDir()
	}
}

func applyApplyDefaults(cfg *ApplyConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func defaultCheckpointDir() string {
	return filepath.Join(dataDir(), "checkpoints")
}

// dataDir returns the tool's data directory. Uses XDG_DATA_HOME if set,
// otherwise ~/.local/share, falling back to the current directory.
func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "keeperperms")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "keeperperms")
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
