// Package checkpoint defines the durable progress ledger for provisioning
// runs. Every completed operation is persisted synchronously before the
// executor moves on, which is what makes interruption and --resume safe.
//
// Store implementations live in the badger (durable) and memory (tests)
// subpackages; both are exercised by the shared conformance suite in
// storetest.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// ErrNotFound is returned by Load for an unknown run ID.
var ErrNotFound = errors.New("checkpoint: run not found")

// WriteError wraps a failed durable write. Progress loss would break the
// idempotency guarantees, so the executor treats any WriteError as fatal.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("checkpoint: %s write failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RowOutcome is the recorded result for a single CSV row.
type RowOutcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RunInfo is the per-run metadata kept alongside the progress markers.
type RunInfo struct {
	RunID       string     `json:"run_id"`
	CSVFile     string     `json:"csv_file"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is a point-in-time copy of a run's checkpoint. It is what the
// planner consults: created folders for UID reuse, completed shares for
// skip-and-revocation decisions, completed permission applications, and
// row outcomes for reporting.
type Snapshot struct {
	RunInfo

	// Folders maps logical folder path keys to backend-assigned UIDs.
	Folders map[string]perms.EntityUID

	// Shares maps completed (record, team) shares to the folder UID the
	// record was linked into. The folder UID is what makes a later
	// blank-cell revocation executable without re-resolving paths.
	Shares map[perms.GrantKey]perms.EntityUID

	// Unshares holds the (record, team) pairs whose revocation completed.
	Unshares map[perms.GrantKey]struct{}

	// Permissions maps teams whose folder permission was applied to the
	// capability tuple that was set. Keeping the tuple lets a later run
	// skip the operation only when the desired tuple is unchanged.
	Permissions map[perms.EntityUID]perms.Capabilities

	// RowOutcomes maps record UIDs to their final result.
	RowOutcomes map[perms.EntityUID]RowOutcome
}

// HasShare reports whether the (record, team) share completed in this run.
func (s *Snapshot) HasShare(key perms.GrantKey) bool {
	_, ok := s.Shares[key]
	return ok
}

// HasUnshare reports whether the (record, team) revocation completed.
func (s *Snapshot) HasUnshare(key perms.GrantKey) bool {
	_, ok := s.Unshares[key]
	return ok
}

// Permission returns the capability tuple applied for a team, if any.
func (s *Snapshot) Permission(teamUID perms.EntityUID) (perms.Capabilities, bool) {
	caps, ok := s.Permissions[teamUID]
	return caps, ok
}

// FolderUID returns the cached backend UID for a logical folder path key.
func (s *Snapshot) FolderUID(key string) (perms.EntityUID, bool) {
	uid, ok := s.Folders[key]
	return uid, ok
}

// Store is the durable checkpoint ledger. Every Record* call must persist
// synchronously before returning; a failed write surfaces as *WriteError.
// Implementations must serialize writes so concurrent team workers never
// interleave partial records.
type Store interface {
	// Create starts a new run ledger. Creating an existing run ID fails.
	Create(ctx context.Context, runID, csvFile string) error

	// Load returns a snapshot of an existing run, or ErrNotFound.
	Load(ctx context.Context, runID string) (*Snapshot, error)

	// List returns metadata for all known runs, newest first.
	List(ctx context.Context) ([]RunInfo, error)

	// RecordFolder caches a created (or reused) folder UID by path key.
	RecordFolder(ctx context.Context, runID, pathKey string, uid perms.EntityUID) error

	// RecordShare marks a (record, team) share as completed, remembering
	// the folder the record was linked into.
	RecordShare(ctx context.Context, runID string, key perms.GrantKey, folderUID perms.EntityUID) error

	// RecordUnshare marks a (record, team) revocation as completed.
	RecordUnshare(ctx context.Context, runID string, key perms.GrantKey) error

	// RecordPermission marks a team's folder permission as applied with
	// the given capability tuple.
	RecordPermission(ctx context.Context, runID string, teamUID perms.EntityUID, caps perms.Capabilities) error

	// RecordRowOutcome stores the final result for a CSV row.
	RecordRowOutcome(ctx context.Context, runID string, recordUID perms.EntityUID, outcome RowOutcome) error

	// MarkComplete stamps the run's completion time. Checkpoints are
	// retained after completion for audit and future revocation planning.
	MarkComplete(ctx context.Context, runID string) error

	// Delete removes a run's ledger (runs prune).
	Delete(ctx context.Context, runID string) error

	// Close releases the underlying storage.
	Close() error
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot(info RunInfo) *Snapshot {
	return &Snapshot{
		RunInfo:     info,
		Folders:     make(map[string]perms.EntityUID),
		Shares:      make(map[perms.GrantKey]perms.EntityUID),
		Unshares:    make(map[perms.GrantKey]struct{}),
		Permissions: make(map[perms.EntityUID]perms.Capabilities),
		RowOutcomes: make(map[perms.EntityUID]RowOutcome),
	}
}
