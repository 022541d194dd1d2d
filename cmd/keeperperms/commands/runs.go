package commands

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/internal/cli/prompt"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
)

var (
	runsShowOutput string
	runsPruneKeep  time.Duration
	runsPruneYes   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage provisioning run checkpoints",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run's checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete completed runs older than the retention window",
	RunE:  runRunsPrune,
}

func init() {
	runsShowCmd.Flags().StringVarP(&runsShowOutput, "output", "o", "table", "output format (table, json, yaml)")
	runsPruneCmd.Flags().DurationVar(&runsPruneKeep, "keep", 30*24*time.Hour, "retention window for completed runs")
	runsPruneCmd.Flags().BoolVarP(&runsPruneYes, "yes", "y", false, "skip the confirmation prompt")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg, err := mustLoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	if len(infos) == 0 {
		printer.Println("No runs recorded.")
		return nil
	}

	table := output.NewTableData("RUN ID", "CSV", "STARTED", "STATUS")
	for _, info := range infos {
		status := "interrupted"
		if info.CompletedAt != nil {
			status = "completed " + info.CompletedAt.Local().Format(time.RFC3339)
		}
		table.AddRow(info.RunID, info.CSVFile, info.StartedAt.Local().Format(time.RFC3339), status)
	}
	return output.PrintTable(printer.Writer(), table)
}

// snapshotView is the serializable rendering of a checkpoint snapshot.
// Maps keyed by struct keys cannot marshal directly, so the markers are
// flattened into slices.
type snapshotView struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	CSVFile     string            `json:"csv_file" yaml:"csv_file"`
	StartedAt   time.Time         `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Folders     map[string]string `json:"folders,omitempty" yaml:"folders,omitempty"`
	Shares      []shareView       `json:"shares,omitempty" yaml:"shares,omitempty"`
	Unshares    []shareView       `json:"unshares,omitempty" yaml:"unshares,omitempty"`
	Permissions []permissionView  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Rows        []rowView         `json:"rows,omitempty" yaml:"rows,omitempty"`
}

type shareView struct {
	Record string `json:"record" yaml:"record"`
	Team   string `json:"team" yaml:"team"`
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty"`
}

type permissionView struct {
	Team         string `json:"team" yaml:"team"`
	Capabilities string `json:"capabilities" yaml:"capabilities"`
}

type rowView struct {
	Record  string `json:"record" yaml:"record"`
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSnapshotView(snap *checkpoint.Snapshot) snapshotView {
	view := snapshotView{
		RunID:       snap.RunID,
		CSVFile:     snap.CSVFile,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
		Folders:     make(map[string]string, len(snap.Folders)),
	}
	for key, uid := range snap.Folders {
		view.Folders[key] = string(uid)
	}
	for key, folderUID := range snap.Shares {
		view.Shares = append(view.Shares, shareView{
			Record: string(key.RecordUID),
			Team:   string(key.TeamUID),
			Folder: string(folderUID),
		})
	}
	for key := range snap.Unshares {
		view.Unshares = append(view.Unshares, shareView{
			Record: string(key.RecordUID),
			Team:   string(key.TeamUID),
		})
	}
	for teamUID, caps := range snap.Permissions {
		view.Permissions = append(view.Permissions, permissionView{
			Team:         string(teamUID),
			Capabilities: capsString(caps),
		})
	}
	for recordUID, outcome := range snap.RowOutcomes {
		view.Rows = append(view.Rows, rowView{
			Record:  string(recordUID),
			Success: outcome.Success,
			Error:   outcome.Error,
		})
	}
	sort.Slice(view.Shares, func(i, j int) bool { return viewLess(view.Shares[i], view.Shares[j]) })
	sort.Slice(view.Unshares, func(i, j int) bool { return viewLess(view.Unshares[i], view.Unshares[j]) })
	sort.Slice(view.Permissions, func(i, j int) bool { return view.Permissions[i].Team < view.Permissions[j].Team })
	sort.Slice(view.Rows, func(i, j int) bool { return view.Rows[i].Record < view.Rows[j].Record })
	return view
}

func viewLess(a, b shareView) bool {
	if a.Record != b.Record {
		return a.Record < b.Record
	}
	return a.Team < b.Team
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := mustLoadConfig()
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(runsShowOutput)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(cmd.Context(), args[0])
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return err
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), format, true)
	view := newSnapshotView(snap)
	if format != output.FormatTable {
		return printer.Print(view)
	}

	status := "interrupted"
	if snap.CompletedAt != nil {
		status = "completed " + snap.CompletedAt.Local().Format(time.RFC3339)
	}
	failed := 0
	for _, outcome := range snap.RowOutcomes {
		if !outcome.Success {
			failed++
		}
	}
	if err := output.KeyValueTable(printer.Writer(), [][2]string{
		{"Run", snap.RunID},
		{"CSV", snap.CSVFile},
		{"Started", snap.StartedAt.Local().Format(time.RFC3339)},
		{"Status", status},
		{"Folders ensured", fmt.Sprintf("%d", len(snap.Folders))},
		{"Shares completed", fmt.Sprintf("%d", len(snap.Shares))},
		{"Shares revoked", fmt.Sprintf("%d", len(snap.Unshares))},
		{"Permissions applied", fmt.Sprintf("%d", len(snap.Permissions))},
		{"Rows recorded", fmt.Sprintf("%d", len(snap.RowOutcomes))},
		{"Rows failed", fmt.Sprintf("%d", failed)},
	}); err != nil {
		return err
	}

	if failed > 0 {
		printer.Println()
		table := output.NewTableData("RECORD", "ERROR")
		for _, row := range view.Rows {
			if !row.Success {
				table.AddRow(row.Record, row.Error)
			}
		}
		return output.PrintTable(printer.Writer(), table)
	}
	return nil
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := mustLoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	infos, err := store.List(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-runsPruneKeep)
	var stale []string
	for _, info := range infos {
		if info.CompletedAt != nil && info.CompletedAt.Before(cutoff) {
			stale = append(stale, info.RunID)
		}
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	if len(stale) == 0 {
		printer.Println("No runs to prune.")
		return nil
	}

	if !runsPruneYes {
		ok, err := prompt.ConfirmDanger(
			fmt.Sprintf("Delete %d run checkpoint(s) older than %s", len(stale), runsPruneKeep),
			"prune")
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("aborted")
			}
			return err
		}
		if !ok {
			printer.Println("Prune cancelled.")
			return nil
		}
	}

	for _, runID := range stale {
		if err := store.Delete(ctx, runID); err != nil {
			return fmt.Errorf("failed to delete run %s: %w", runID, err)
		}
	}
	printer.Success(fmt.Sprintf("Deleted %d run(s).", len(stale)))
	return nil
}
