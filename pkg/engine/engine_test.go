package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	ckptmem "github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/memory"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/plan"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
	vaultmem "github.com/msawczynk/keeper-perms-automation/pkg/vault/memory"
)

var engineTeams = []perms.Team{
	{UID: "T-ENG", Name: "Engineering"},
	{UID: "T-OPS", Name: "Ops"},
}

func testOptions() Options {
	return Options{
		Workers:      2,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		CallTimeout:  time.Second,
	}
}

func buildTestPlan(t *testing.T, rows [][]string, prior *checkpoint.Snapshot) *plan.Plan {
	t.Helper()
	ds, err := manifest.BuildDesired(rows, engineTeams, manifest.BuildOptions{})
	require.NoError(t, err)
	return plan.Build(ds, prior, engineTeams, plan.Options{})
}

func defaultRows() [][]string {
	return [][]string{
		{"record_uid", "title", "folder_path", "Engineering", "Ops"},
		{"R1", "db password", "Eng/Prod", "rw", "ro"},
		{"R2", "api key", "Eng", "", "admin"},
	}
}

// resolveFolder walks display names from the root container down.
func resolveFolder(t *testing.T, vlt *vaultmem.Adapter, names ...string) perms.EntityUID {
	t.Helper()
	parent := perms.EntityUID("")
	for _, name := range names {
		uid, ok := vlt.FolderByName(parent, name)
		require.True(t, ok, "folder %q not found under %q", name, parent)
		parent = uid
	}
	return parent
}

func TestRunCleanVault(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	p := buildTestPlan(t, defaultRows(), nil)
	exec := New(vlt, store, testOptions())

	res, err := exec.Run(ctx, "run-1", p, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, p.Len(), res.Succeeded)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Failed)

	// The whole mirror exists: root, one shared folder per team, and the
	// path folders beneath them.
	root := resolveFolder(t, vlt, plan.DefaultRootFolderName)
	_, _, shared, ok := vlt.Folder(resolveFolder(t, vlt, plan.DefaultRootFolderName, "Engineering"))
	require.True(t, ok)
	assert.True(t, shared, "team folders must be shared containers")
	_, _, rootShared, _ := vlt.Folder(root)
	assert.False(t, rootShared, "the root container stays private")

	engProd := resolveFolder(t, vlt, plan.DefaultRootFolderName, "Engineering", "Eng", "Prod")
	assert.True(t, vlt.HasShare("R1", engProd))
	opsEng := resolveFolder(t, vlt, plan.DefaultRootFolderName, "Ops", "Eng")
	assert.True(t, vlt.HasShare("R2", opsEng))

	// Folder-level tuples are the componentwise maximum over each team's
	// grants.
	engFolder := resolveFolder(t, vlt, plan.DefaultRootFolderName, "Engineering")
	caps, ok := vlt.TeamPermission("T-ENG", engFolder)
	require.True(t, ok)
	assert.Equal(t, perms.ReadWrite.Capabilities(), caps)
	opsFolder := resolveFolder(t, vlt, plan.DefaultRootFolderName, "Ops")
	caps, ok = vlt.TeamPermission("T-OPS", opsFolder)
	require.True(t, ok)
	assert.Equal(t, perms.Admin.Capabilities(), caps)

	require.Len(t, res.RowOutcomes, 2)
	assert.True(t, res.RowOutcomes["R1"].Success)
	assert.True(t, res.RowOutcomes["R2"].Success)

	snap, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, snap.CompletedAt, "clean runs are marked complete")
	assert.Len(t, snap.Shares, 3)
}

func TestRunIdempotentRerun(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	exec := New(vlt, store, testOptions())
	_, err := exec.Run(ctx, "run-1", buildTestPlan(t, defaultRows(), nil), nil, nil)
	require.NoError(t, err)
	mutations := vlt.Mutations()

	prior, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, "run-2", "perms.csv"))

	p := buildTestPlan(t, defaultRows(), prior)
	res, err := exec.Run(ctx, "run-2", p, nil, prior)
	require.NoError(t, err)

	// An unchanged CSV re-applies with zero backend mutations and every
	// operation reported as skipped: folders, shares, and permissions all
	// resolve from the prior checkpoint.
	assert.Equal(t, mutations, vlt.Mutations())
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, p.Len(), res.Skipped)
	assert.Zero(t, res.Failed)

	// The skipped markers are still copied into run-2's own checkpoint so a
	// third run can plan revocations against it.
	snap, err := store.Load(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, snap.Shares, 3)
	assert.Len(t, snap.Folders, len(prior.Folders))
	assert.True(t, res.RowOutcomes["R1"].Success)
	assert.True(t, res.RowOutcomes["R2"].Success)
}

func TestRunFatalAbortAndResume(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	// The session dies on R2's share. Workers is 1 so ordering is
	// deterministic: Engineering completes before Ops starts.
	vlt.ErrOn = func(op, key string) error {
		if op == "share_record" && strings.HasPrefix(key, "R2/") {
			return vault.NewError(vault.ErrAuthExpired, "session expired", nil)
		}
		return nil
	}

	opts := testOptions()
	opts.Workers = 1
	exec := New(vlt, store, opts)

	p := buildTestPlan(t, defaultRows(), nil)
	res, err := exec.Run(ctx, "run-1", p, nil, nil)
	require.Error(t, err)
	assert.True(t, vault.IsFatal(err))
	require.NotNil(t, res)

	snap, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, snap.CompletedAt, "aborted runs stay incomplete")
	assert.True(t, snap.HasShare(perms.GrantKey{RecordUID: "R1", TeamUID: "T-ENG"}))

	// Resume the same run: completed work is skipped, only the remainder
	// reaches the backend.
	vlt.ErrOn = nil
	sharesBefore := vlt.Calls()["share_record"]

	res, err = exec.Run(ctx, "run-1", p, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, sharesBefore+1, vlt.Calls()["share_record"],
		"only the missing share may reach the backend")
	assert.True(t, res.RowOutcomes["R1"].Success)
	assert.True(t, res.RowOutcomes["R2"].Success)

	snap, err = store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, snap.CompletedAt)
}

func TestRunRevokesBlankCells(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	exec := New(vlt, store, testOptions())
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "db password", "Eng", "rw"},
	}
	_, err := exec.Run(ctx, "run-1", buildTestPlan(t, rows, nil), nil, nil)
	require.NoError(t, err)

	engFolder := resolveFolder(t, vlt, plan.DefaultRootFolderName, "Engineering", "Eng")
	require.True(t, vlt.HasShare("R1", engFolder))

	// Same record, cell now blank: the next run revokes the share.
	prior, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, "run-2", "perms.csv"))

	blank := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "db password", "Eng", ""},
	}
	res, err := exec.Run(ctx, "run-2", buildTestPlan(t, blank, prior), nil, prior)
	require.NoError(t, err)

	assert.False(t, vlt.HasShare("R1", engFolder))
	assert.True(t, res.RowOutcomes["R1"].Success)

	snap, err := store.Load(ctx, "run-2")
	require.NoError(t, err)
	assert.True(t, snap.HasUnshare(perms.GrantKey{RecordUID: "R1", TeamUID: "T-ENG"}))
}

func TestRunRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	failures := 0
	vlt.ErrOn = func(op, key string) error {
		if op == "share_record" && failures < 2 {
			failures++
			return vault.NewError(vault.ErrRateLimited, "throttled", nil)
		}
		return nil
	}

	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "doc", "Docs", "ro"},
	}
	exec := New(vlt, store, testOptions())
	res, err := exec.Run(ctx, "run-1", buildTestPlan(t, rows, nil), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, failures)
	assert.Equal(t, 3, vlt.Calls()["share_record"])
	assert.Zero(t, res.Failed)
	assert.True(t, res.RowOutcomes["R1"].Success)
}

func TestRunExhaustedRetriesFailRow(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	vlt.ErrOn = func(op, key string) error {
		if op == "share_record" && strings.HasPrefix(key, "R1/") {
			return vault.NewError(vault.ErrUnknown, "backend rejected the share", nil)
		}
		return nil
	}

	exec := New(vlt, store, testOptions())
	res, err := exec.Run(ctx, "run-1", buildTestPlan(t, defaultRows(), nil), nil, nil)
	require.NoError(t, err, "a row failure must not abort the run")

	// R1 fails for both teams but gets a single failure outcome; R2 is
	// untouched by it.
	assert.Equal(t, 1, res.FailedRows())
	outcome := res.RowOutcomes["R1"]
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "backend rejected the share")
	assert.True(t, res.RowOutcomes["R2"].Success)
	assert.Positive(t, res.Failed)

	// Unclassified errors are not retried: one attempt per R1 grant, plus
	// R2's successful share.
	assert.Equal(t, 3, vlt.Calls()["share_record"])

	snap, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, snap.CompletedAt, "runs with failed rows still complete")
}

func TestRunFolderFailureBlocksTeam(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))

	vlt.ErrOn = func(op, key string) error {
		if op == "create_folder" && strings.HasSuffix(key, "/Engineering") {
			return vault.NewError(vault.ErrUnknown, "folder creation rejected", nil)
		}
		return nil
	}

	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "doc", "Eng", "rw"},
	}
	p := buildTestPlan(t, rows, nil)
	exec := New(vlt, store, testOptions())
	res, err := exec.Run(ctx, "run-1", p, nil, nil)
	require.NoError(t, err)

	// The team folder failure blocks the whole sequence: path folder,
	// share, and permission are all counted failed.
	teamOps := len(p.Teams[0].Ops)
	assert.Equal(t, teamOps, res.Failed)
	assert.Equal(t, 1, res.Succeeded, "only the root folder ensure succeeds")
	assert.False(t, res.RowOutcomes["R1"].Success)
	assert.Zero(t, vlt.Calls()["share_record"], "no share may be attempted")
}

func TestRunCheckpointWriteFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(ctx, "run-1", "perms.csv"))
	store.FailWrites = errors.New("disk full")

	exec := New(vlt, store, testOptions())
	res, err := exec.Run(ctx, "run-1", buildTestPlan(t, defaultRows(), nil), nil, nil)
	require.Error(t, err)

	var werr *checkpoint.WriteError
	assert.True(t, errors.As(err, &werr), "checkpoint failures must surface as WriteError")
	require.NotNil(t, res, "a partial result is returned on abort")
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vlt := vaultmem.New()
	store := ckptmem.New()
	require.NoError(t, store.Create(context.Background(), "run-1", "perms.csv"))

	exec := New(vlt, store, testOptions())
	res, err := exec.Run(ctx, "run-1", buildTestPlan(t, defaultRows(), nil), nil, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Zero(t, vlt.Mutations(), "a cancelled run must not mutate the backend")
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultWorkers, opts.Workers)
	assert.Equal(t, DefaultRetryBackoff, opts.RetryBackoff)
	assert.Equal(t, DefaultCallTimeout, opts.CallTimeout)
	assert.Zero(t, opts.MaxRetries, "zero retries is a valid choice")
}
