// Package config implements the config subcommands: init, show, schema.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/pkg/config"
)

// ConfigFile is set by the root command to expose the --config flag.
var ConfigFile = func() string { return "" }

// Cmd is the config command group.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the keeperperms configuration",
}

var (
	initForce    bool
	showOutput   string
	schemaOutput string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Init writes a fully defaulted configuration file to the --config path,
or to the default location when none is given.`,
	RunE: runInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runShow,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for the configuration file",
	Long: `Generate a JSON schema for the keeperperms configuration file, usable
for IDE autocompletion and config validation.`,
	Example: `  keeperperms config schema
  keeperperms config schema --output config.schema.json`,
	RunE: runSchema,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format (yaml, json)")
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")

	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := ConfigFile()
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ConfigFile())
	if err != nil {
		return err
	}

	switch showOutput {
	case "json":
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	case "yaml", "yml", "":
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	default:
		return fmt.Errorf("invalid output format: %q (valid: yaml, json)", showOutput)
	}
}

func runSchema(cmd *cobra.Command, args []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "keeperperms Configuration"
	schema.Description = "Configuration schema for the keeperperms provisioning tool"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0o644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
