// Package commands implements the keeperperms CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	configcmd "github.com/msawczynk/keeper-perms-automation/cmd/keeperperms/commands/config"
	"github.com/msawczynk/keeper-perms-automation/internal/logger"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	badgerstore "github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/badger"
	"github.com/msawczynk/keeper-perms-automation/pkg/config"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
	vaultfile "github.com/msawczynk/keeper-perms-automation/pkg/vault/file"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "keeperperms",
	Short: "CSV-driven team permission provisioning for Keeper vaults",
	Long: `keeperperms reconciles a Keeper-style vault against a CSV permission
manifest: one row per record, one column per team, cells holding the
permission level. It mirrors record folder paths into per-team shared
folders, shares records into them, applies folder-level team capabilities,
and revokes shares whose cells went blank.

Every apply is checkpointed durably and can be resumed after interruption
with --resume.

Use "keeperperms [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/keeperperms/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configcmd.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	configcmd.ConfigFile = func() string { return cfgFile }
}

// loadConfig loads the configuration, applies flag overrides, and
// initializes the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return initLogging(cfg)
}

// mustLoadConfig is loadConfig for mutating commands: it refuses to run
// without an explicit configuration file.
func mustLoadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return nil, err
	}
	return initLogging(cfg)
}

func initLogging(cfg *config.Config) (*config.Config, error) {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openVault opens the configured backend adapter.
func openVault(cfg *config.Config) (vault.Adapter, error) {
	return vaultfile.Open(cfg.Vault.Path)
}

// openStore opens the checkpoint database.
func openStore(cfg *config.Config) (checkpoint.Store, error) {
	return badgerstore.Open(cfg.Checkpoint.Path)
}

// latestCompleted returns the most recent completed run's snapshot, or
// nil when no completed run exists. exclude skips the current run ID.
func latestCompleted(ctx context.Context, store checkpoint.Store, exclude string) (*checkpoint.Snapshot, error) {
	infos, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.CompletedAt == nil || info.RunID == exclude {
			continue
		}
		return store.Load(ctx, info.RunID)
	}
	return nil, nil
}

// readManifest reads and parses the CSV file.
func readManifest(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	rows, err := manifest.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV file %s: %w", path, err)
	}
	return rows, nil
}

// excludedFolderUIDs converts the configured exclusion list.
func excludedFolderUIDs(cfg *config.Config) []perms.EntityUID {
	out := make([]perms.EntityUID, 0, len(cfg.ExcludedFolders))
	for _, uid := range cfg.ExcludedFolders {
		out = append(out, perms.EntityUID(uid))
	}
	return out
}

// newRunID derives a run identifier from the current time.
func newRunID() string {
	return time.Now().UTC().Format("20060102-150405")
}
