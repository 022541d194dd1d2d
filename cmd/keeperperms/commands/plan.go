package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/config"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/plan"
)

var (
	planCSV    string
	planOutput string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the operations an apply would perform",
	Long: `Plan validates the CSV, builds the desired state, and prints the
operation sequence an apply would execute. Nothing is written: no backend
mutation and no checkpoint.

Revocations are derived from the most recent completed run's checkpoint.`,
	Example: `  keeperperms plan --csv perms.csv
  keeperperms plan --csv perms.csv --output json`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planCSV, "csv", "", "CSV manifest to plan from (required)")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "table", "output format (table, json, yaml)")
	_ = planCmd.MarkFlagRequired("csv")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(planOutput)
	if err != nil {
		return err
	}
	printer := output.NewPrinter(cmd.OutOrStdout(), format, true)

	p, _, err := buildPlan(cmd, cfg, planCSV, printer)
	if err != nil {
		return err
	}

	for _, warning := range p.Warnings {
		printer.Warning("warning: " + warning)
	}
	return printPlan(printer, p)
}

// buildPlan runs the validate-build-plan pipeline shared by plan and
// apply. The returned rows are the raw CSV for later artifact writing.
func buildPlan(cmd *cobra.Command, cfg *config.Config, csvPath string, printer *output.Printer) (*plan.Plan, [][]string, error) {
	report, rows, teams, err := validateManifest(cmd, cfg, csvPath, false)
	if err != nil {
		return nil, nil, err
	}
	if !report.IsValid() {
		printReport(printer, report)
		return nil, nil, fmt.Errorf("validation failed: %d error(s)", len(report.Errors))
	}

	prior, err := loadPriorSnapshot(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	p, err := buildRunPlan(cfg, rows, teams, prior)
	if err != nil {
		return nil, nil, err
	}
	return p, rows, nil
}

// buildRunPlan converts validated CSV rows into a run plan.
func buildRunPlan(cfg *config.Config, rows [][]string, teams []perms.Team, prior *checkpoint.Snapshot) (*plan.Plan, error) {
	var included []perms.EntityUID
	for _, uid := range cfg.IncludedTeams {
		included = append(included, perms.EntityUID(uid))
	}
	desired, err := manifest.BuildDesired(rows, teams, manifest.BuildOptions{IncludedTeams: included})
	if err != nil {
		return nil, err
	}
	return plan.Build(desired, prior, teams, plan.Options{
		RootFolderName:  cfg.RootFolderName,
		ExcludedFolders: excludedFolderUIDs(cfg),
	}), nil
}

// loadPriorSnapshot fetches the latest completed run's checkpoint. A
// missing or empty checkpoint database means a first run.
func loadPriorSnapshot(cmd *cobra.Command, cfg *config.Config) (*checkpoint.Snapshot, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	prior, err := latestCompleted(cmd.Context(), store, "")
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, err
	}
	return prior, nil
}

// opView is the serializable rendering of a planned operation.
type opView struct {
	Team         string `json:"team,omitempty" yaml:"team,omitempty"`
	Operation    string `json:"operation" yaml:"operation"`
	Record       string `json:"record,omitempty" yaml:"record,omitempty"`
	Folder       string `json:"folder,omitempty" yaml:"folder,omitempty"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Capabilities string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

func printPlan(printer *output.Printer, p *plan.Plan) error {
	var views []opView
	appendOps := func(team string, ops []plan.Op) {
		for _, op := range ops {
			view := opView{
				Team:      team,
				Operation: op.Type.String(),
				Record:    string(op.RecordUID),
				Name:      op.Name,
			}
			if op.FolderKey != "" {
				view.Folder = op.FolderKey
			} else if op.FolderUID != "" {
				view.Folder = string(op.FolderUID)
			}
			if op.Type == plan.OpApplyTeamPermission {
				view.Capabilities = capsString(op.Capabilities)
			}
			views = append(views, view)
		}
	}
	appendOps("", p.Prelude)
	for _, tp := range p.Teams {
		appendOps(tp.Team.Name, tp.Ops)
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(views)
	}

	table := output.NewTableData("TEAM", "OPERATION", "RECORD", "FOLDER", "NAME", "CAPABILITIES")
	for _, v := range views {
		table.AddRow(v.Team, v.Operation, v.Record, v.Folder, v.Name, v.Capabilities)
	}
	if err := output.PrintTable(printer.Writer(), table); err != nil {
		return err
	}
	printer.Println()
	printer.Printf("Plan: %d operation(s) across %d team(s)\n", p.Len(), len(p.Teams))
	return nil
}

// capsString renders a capability tuple like "edit,share".
func capsString(caps perms.Capabilities) string {
	var parts []string
	if caps.CanEdit {
		parts = append(parts, "edit")
	}
	if caps.CanShare {
		parts = append(parts, "share")
	}
	if caps.ManageRecords {
		parts = append(parts, "manage-records")
	}
	if caps.ManageUsers {
		parts = append(parts, "manage-users")
	}
	if len(parts) == 0 {
		return "view-only"
	}
	return strings.Join(parts, ",")
}
