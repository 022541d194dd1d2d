package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/pkg/config"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

var (
	validateCSV    string
	validateStrict bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a CSV permission manifest",
	Long: `Validate checks the CSV against the schema and the vault's team
directory without touching the backend: required columns, UID syntax,
duplicate records, folder paths, permission tokens, and unknown team
columns.

Warnings do not fail validation unless --strict is set.`,
	Example: `  keeperperms validate --csv perms.csv
  keeperperms validate --csv perms.csv --strict`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateCSV, "csv", "", "CSV manifest to validate (required)")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "treat warnings as errors")
	_ = validateCmd.MarkFlagRequired("csv")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report, _, _, err := validateManifest(cmd, cfg, validateCSV, validateStrict)
	if err != nil {
		return err
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	printReport(printer, report)

	if !report.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(report.Errors))
	}
	printer.Success(fmt.Sprintf("CSV is valid: %d row(s), %d warning(s)", report.RowCount, len(report.Warnings)))
	return nil
}

// validateManifest loads the CSV and the team directory and runs the
// validation pass shared by validate, plan, and apply.
func validateManifest(cmd *cobra.Command, cfg *config.Config, path string, strict bool) (*manifest.Report, [][]string, []perms.Team, error) {
	rows, err := readManifest(path)
	if err != nil {
		return nil, nil, nil, err
	}

	vlt, err := openVault(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	teams, err := vlt.ListTeams(cmd.Context())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list teams: %w", err)
	}

	report := manifest.Validate(rows, teams, manifest.ValidateOptions{
		Strict:     cfg.Strict || strict,
		MaxRecords: cfg.MaxRecords,
	})
	return report, rows, teams, nil
}

// printReport renders validation issues.
func printReport(printer *output.Printer, report *manifest.Report) {
	if len(report.Errors) == 0 && len(report.Warnings) == 0 {
		return
	}
	table := output.NewTableData("SEVERITY", "LINE", "COLUMN", "MESSAGE")
	for _, issue := range report.Errors {
		table.AddRow("error", fmt.Sprintf("%d", issue.Row), issue.Column, issue.Message)
	}
	for _, issue := range report.Warnings {
		table.AddRow("warning", fmt.Sprintf("%d", issue.Row), issue.Column, issue.Message)
	}
	_ = output.PrintTable(printer.Writer(), table)
	printer.Println()
}
