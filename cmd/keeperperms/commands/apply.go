package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msawczynk/keeper-perms-automation/internal/cli/output"
	"github.com/msawczynk/keeper-perms-automation/internal/cli/prompt"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/engine"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// durationPrecision keeps run durations readable in the summary.
const durationPrecision = 10 * time.Millisecond

var (
	applyCSV     string
	applyResume  string
	applyForce   bool
	applyYes     bool
	applyMetrics bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the vault against a CSV manifest",
	Long: `Apply validates the CSV, plans the operation sequence, and executes it
against the backend. Every completed operation is checkpointed durably
before the next one starts, so an interrupted apply can be resumed with
--resume <run-id> and will only perform the remaining work.

Rows that fail keep the rest of the run going; their original CSV rows
are written to <csv>.failed.csv for a follow-up apply.`,
	Example: `  keeperperms apply --csv perms.csv
  keeperperms apply --csv perms.csv --yes
  keeperperms apply --csv perms.csv --resume 20260828-091500`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyCSV, "csv", "", "CSV manifest to apply (required)")
	applyCmd.Flags().StringVar(&applyResume, "resume", "", "resume an interrupted run by ID")
	applyCmd.Flags().BoolVar(&applyForce, "force", false, "bypass the max_records guard")
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "skip the confirmation prompt")
	applyCmd.Flags().BoolVar(&applyMetrics, "metrics", false, "print run metrics in Prometheus text format after the summary")
	_ = applyCmd.MarkFlagRequired("csv")
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := mustLoadConfig()
	if err != nil {
		return err
	}
	printer := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable, true)
	ctx := cmd.Context()

	report, rows, teams, err := validateManifest(cmd, cfg, applyCSV, false)
	if err != nil {
		return err
	}
	if !report.IsValid() {
		printReport(printer, report)
		return fmt.Errorf("validation failed: %d error(s)", len(report.Errors))
	}
	if cfg.MaxRecords > 0 && report.RowCount > cfg.MaxRecords && !applyForce {
		return fmt.Errorf("CSV has %d rows, above the max_records guard of %d (use --force to override)",
			report.RowCount, cfg.MaxRecords)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Resolve the run: fresh runs get a new ledger, resumed runs load
	// their existing one.
	runID := applyResume
	var current *checkpoint.Snapshot
	if runID != "" {
		current, err = store.Load(ctx, runID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("run %s not found (see 'keeperperms runs list')", runID)
		}
		if err != nil {
			return err
		}
		if current.CompletedAt != nil {
			return fmt.Errorf("run %s already completed; start a fresh apply instead", runID)
		}
	} else {
		runID = newRunID()
		if err := store.Create(ctx, runID, applyCSV); err != nil {
			return err
		}
		current, err = store.Load(ctx, runID)
		if err != nil {
			return err
		}
	}

	prior, err := latestCompleted(ctx, store, runID)
	if err != nil {
		return err
	}

	p, err := buildRunPlan(cfg, rows, teams, prior)
	if err != nil {
		return err
	}
	for _, warning := range p.Warnings {
		printer.Warning("warning: " + warning)
	}

	if !applyYes {
		ok, err := prompt.Confirm(
			fmt.Sprintf("Apply %d operation(s) across %d team(s) (run %s)?", p.Len(), len(p.Teams), runID),
			false)
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("aborted")
			}
			return err
		}
		if !ok {
			printer.Println("Apply cancelled.")
			return nil
		}
	}

	vlt, err := openVault(cfg)
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	exec := engine.New(vlt, store, engine.Options{
		Workers:      cfg.Apply.Workers,
		MaxRetries:   cfg.Apply.MaxRetries,
		RetryBackoff: cfg.Apply.RetryBackoff,
		CallTimeout:  cfg.Apply.CallTimeout,
		Metrics:      metrics.New(registry),
	})

	res, runErr := exec.Run(ctx, runID, p, current, prior)
	printSummary(printer, runID, res)

	if applyMetrics {
		if merr := metrics.WriteText(printer.Writer(), registry); merr != nil {
			printer.Error("failed to render metrics: " + merr.Error())
		}
	}

	if failed := manifest.FailedRows(rows, res.RowOutcomes); failed != nil {
		artifact := failedRowsPath(applyCSV)
		if werr := writeCSVFile(artifact, failed); werr != nil {
			printer.Error("failed to write failed-rows file: " + werr.Error())
		} else {
			printer.Printf("Failed rows written to %s\n", artifact)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run %s aborted (resume with --resume %s): %w", runID, runID, runErr)
	}
	if n := res.FailedRows(); n > 0 {
		return fmt.Errorf("%d row(s) failed", n)
	}
	printer.Success(fmt.Sprintf("Run %s complete.", runID))
	return nil
}

func printSummary(printer *output.Printer, runID string, res *engine.Result) {
	succeededRows := 0
	for _, outcome := range res.RowOutcomes {
		if outcome.Success {
			succeededRows++
		}
	}
	_ = output.KeyValueTable(printer.Writer(), [][2]string{
		{"Run", runID},
		{"Operations succeeded", fmt.Sprintf("%d", res.Succeeded)},
		{"Operations skipped", fmt.Sprintf("%d", res.Skipped)},
		{"Operations failed", fmt.Sprintf("%d", res.Failed)},
		{"Rows succeeded", fmt.Sprintf("%d", succeededRows)},
		{"Rows failed", fmt.Sprintf("%d", res.FailedRows())},
		{"Duration", res.Duration.Round(durationPrecision).String()},
	})
	printer.Println()
}

// failedRowsPath derives the failed-rows artifact path from the CSV path.
func failedRowsPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, ".csv") + ".failed.csv"
}

func writeCSVFile(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return manifest.WriteCSV(f, rows)
}
