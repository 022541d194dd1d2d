// Package storetest provides a conformance suite for checkpoint store
// implementations. Both backends (memory, badger) must pass it: the suite
// pins down the behavioral contract the executor and planner rely on.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) checkpoint.Store {
//	        return memory.New()
//	    })
//	}
//
// The factory receives *testing.T so implementations can use t.TempDir()
// and t.Cleanup for teardown.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// StoreFactory builds a fresh store for each test.
type StoreFactory func(t *testing.T) checkpoint.Store

// RunConformanceSuite runs every conformance test against the factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, factory) })
	t.Run("LoadUnknownRun", func(t *testing.T) { testLoadUnknownRun(t, factory) })
	t.Run("MarkersSurviveReload", func(t *testing.T) { testMarkersSurviveReload(t, factory) })
	t.Run("RowOutcomeOverwrite", func(t *testing.T) { testRowOutcomeOverwrite(t, factory) })
	t.Run("CompleteAndList", func(t *testing.T) { testCompleteAndList(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("RunIsolation", func(t *testing.T) { testRunIsolation(t, factory) })
}

func testCreateAndLoad(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "perms.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if snap.RunID != "run-1" {
		t.Errorf("RunID = %q, want %q", snap.RunID, "run-1")
	}
	if snap.CSVFile != "perms.csv" {
		t.Errorf("CSVFile = %q, want %q", snap.CSVFile, "perms.csv")
	}
	if snap.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if snap.CompletedAt != nil {
		t.Error("CompletedAt should be nil for a fresh run")
	}
	if len(snap.Folders)+len(snap.Shares)+len(snap.Permissions)+len(snap.RowOutcomes) != 0 {
		t.Error("fresh snapshot should carry no markers")
	}

	// Creating the same run again must fail and say why.
	err = store.Create(ctx, "run-1", "perms.csv")
	if err == nil {
		t.Fatal("Create() of an existing run should fail")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate Create() error = %v, want it to mention the run already exists", err)
	}
	if errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("duplicate Create() error = %v, must not be ErrNotFound", err)
	}
}

func testLoadUnknownRun(t *testing.T, factory StoreFactory) {
	store := factory(t)

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func testMarkersSurviveReload(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "perms.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	share := perms.GrantKey{RecordUID: "R1", TeamUID: "T1"}
	unshare := perms.GrantKey{RecordUID: "R2", TeamUID: "T1"}

	if err := store.RecordFolder(ctx, "run-1", "team:T1/Eng/Prod", "F-123"); err != nil {
		t.Fatalf("RecordFolder() failed: %v", err)
	}
	if err := store.RecordShare(ctx, "run-1", share, "F-123"); err != nil {
		t.Fatalf("RecordShare() failed: %v", err)
	}
	if err := store.RecordUnshare(ctx, "run-1", unshare); err != nil {
		t.Fatalf("RecordUnshare() failed: %v", err)
	}
	applied := perms.Capabilities{CanEdit: true, CanShare: true}
	if err := store.RecordPermission(ctx, "run-1", "T1", applied); err != nil {
		t.Fatalf("RecordPermission() failed: %v", err)
	}
	if err := store.RecordRowOutcome(ctx, "run-1", "R1", checkpoint.RowOutcome{Success: true}); err != nil {
		t.Fatalf("RecordRowOutcome() failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if uid, ok := snap.FolderUID("team:T1/Eng/Prod"); !ok || uid != "F-123" {
		t.Errorf("FolderUID = %q, %v; want F-123, true", uid, ok)
	}
	if !snap.HasShare(share) {
		t.Error("share marker lost")
	}
	if folderUID := snap.Shares[share]; folderUID != "F-123" {
		t.Errorf("Shares[%v] = %q, want F-123", share, folderUID)
	}
	if snap.HasShare(unshare) {
		t.Error("unshare key must not appear as a share")
	}
	if !snap.HasUnshare(unshare) {
		t.Error("unshare marker lost")
	}
	if caps, ok := snap.Permission("T1"); !ok || caps != applied {
		t.Errorf("Permission(T1) = %+v, %v; want %+v", caps, ok, applied)
	}
	outcome, ok := snap.RowOutcomes["R1"]
	if !ok || !outcome.Success {
		t.Errorf("RowOutcomes[R1] = %+v, %v; want success", outcome, ok)
	}
}

func testRowOutcomeOverwrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "perms.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.RecordRowOutcome(ctx, "run-1", "R1", checkpoint.RowOutcome{Success: false, Error: "timeout"}); err != nil {
		t.Fatalf("RecordRowOutcome() failed: %v", err)
	}
	// A retried row replaces its earlier outcome.
	if err := store.RecordRowOutcome(ctx, "run-1", "R1", checkpoint.RowOutcome{Success: true}); err != nil {
		t.Fatalf("RecordRowOutcome() failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	outcome := snap.RowOutcomes["R1"]
	if !outcome.Success || outcome.Error != "" {
		t.Errorf("RowOutcomes[R1] = %+v, want overwritten success", outcome)
	}
}

func testCompleteAndList(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "a.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.Create(ctx, "run-2", "b.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.MarkComplete(ctx, "run-1"); err != nil {
		t.Fatalf("MarkComplete() failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if snap.CompletedAt == nil {
		t.Error("CompletedAt should be set after MarkComplete")
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(infos))
	}

	if err := store.MarkComplete(ctx, "missing"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("MarkComplete(missing) error = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "a.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.RecordShare(ctx, "run-1", perms.GrantKey{RecordUID: "R1", TeamUID: "T1"}, "F-1"); err != nil {
		t.Fatalf("RecordShare() failed: %v", err)
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Load(ctx, "run-1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "run-1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Delete() of a deleted run error = %v, want ErrNotFound", err)
	}

	// A deleted run ID can be reused.
	if err := store.Create(ctx, "run-1", "a.csv"); err != nil {
		t.Fatalf("Create() after Delete failed: %v", err)
	}
	snap, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap.Shares) != 0 {
		t.Error("markers from the deleted run leaked into the new run")
	}
}

func testRunIsolation(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	if err := store.Create(ctx, "run-1", "a.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.Create(ctx, "run-2", "b.csv"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.RecordShare(ctx, "run-1", perms.GrantKey{RecordUID: "R1", TeamUID: "T1"}, "F-1"); err != nil {
		t.Fatalf("RecordShare() failed: %v", err)
	}
	if err := store.RecordFolder(ctx, "run-1", "root", "F-1"); err != nil {
		t.Fatalf("RecordFolder() failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-2")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap.Shares) != 0 || len(snap.Folders) != 0 {
		t.Error("markers from run-1 visible in run-2")
	}
}
