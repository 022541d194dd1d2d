package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/pkg/config"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Generate a blank CSV manifest from the vault",
	Long: `Template writes a CSV with one row per vault record and one blank
permission column per team, ready to be filled in and applied.

The included_teams and included_folders configuration entries scope which
teams and records appear.`,
	Example: `  keeperperms template --out template.csv`,
	RunE:    runTemplate,
}

func init() {
	templateCmd.Flags().StringVar(&templateOut, "out", "", "output CSV path (required)")
	_ = templateCmd.MarkFlagRequired("out")
}

func runTemplate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	vlt, err := openVault(cfg)
	if err != nil {
		return err
	}
	teams, err := vlt.ListTeams(ctx)
	if err != nil {
		return fmt.Errorf("failed to list teams: %w", err)
	}
	records, err := vlt.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	teams = filterTeams(teams, cfg)
	records = filterRecords(records, cfg)

	rows := manifest.Template(teams, records)
	if err := writeCSVFile(templateOut, rows); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	printer.Success(fmt.Sprintf("Template written to %s: %d record(s), %d team(s)",
		templateOut, len(records), len(teams)))
	return nil
}

func filterTeams(teams []perms.Team, cfg *config.Config) []perms.Team {
	if len(cfg.IncludedTeams) == 0 {
		return teams
	}
	included := make(map[perms.EntityUID]bool, len(cfg.IncludedTeams))
	for _, uid := range cfg.IncludedTeams {
		included[perms.EntityUID(uid)] = true
	}
	out := teams[:0]
	for _, team := range teams {
		if included[team.UID] {
			out = append(out, team)
		}
	}
	return out
}

// filterRecords keeps records whose folder path starts with one of the
// configured included folder paths.
func filterRecords(records []perms.Record, cfg *config.Config) []perms.Record {
	if len(cfg.IncludedFolders) == 0 {
		return records
	}
	out := records[:0]
	for _, record := range records {
		path := strings.Join(record.FolderPath, manifest.PathSeparator)
		for _, prefix := range cfg.IncludedFolders {
			if path == prefix || strings.HasPrefix(path, prefix+manifest.PathSeparator) {
				out = append(out, record)
				break
			}
		}
	}
	return out
}
