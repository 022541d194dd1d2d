// Package memory provides an in-memory checkpoint store for tests.
// It implements the same semantics as the durable Badger store, minus the
// durability: data lives for the lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// Store is an in-memory checkpoint.Store implementation.
type Store struct {
	mu   sync.Mutex
	runs map[string]*checkpoint.Snapshot

	// FailWrites, when set, makes every Record* call fail with the given
	// error wrapped in a checkpoint.WriteError. Tests use it to exercise
	// the executor's fatal-on-checkpoint-failure path.
	FailWrites error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{runs: make(map[string]*checkpoint.Snapshot)}
}

var _ checkpoint.Store = (*Store)(nil)

func (s *Store) writeErr(op string) error {
	if s.FailWrites != nil {
		return &checkpoint.WriteError{Op: op, Err: s.FailWrites}
	}
	return nil
}

func (s *Store) get(runID string) (*checkpoint.Snapshot, error) {
	snap, ok := s.runs[runID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return snap, nil
}

// Create implements checkpoint.Store.
func (s *Store) Create(ctx context.Context, runID, csvFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("create"); err != nil {
		return err
	}
	if _, ok := s.runs[runID]; ok {
		return &checkpoint.WriteError{Op: "create", Err: fmt.Errorf("run %s already exists", runID)}
	}
	s.runs[runID] = checkpoint.NewSnapshot(checkpoint.RunInfo{
		RunID:     runID,
		CSVFile:   csvFile,
		StartedAt: time.Now().UTC(),
	})
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, runID string) (*checkpoint.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.get(runID)
	if err != nil {
		return nil, err
	}
	return clone(snap), nil
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context) ([]checkpoint.RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]checkpoint.RunInfo, 0, len(s.runs))
	for _, snap := range s.runs {
		infos = append(infos, snap.RunInfo)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
	return infos, nil
}

// RecordFolder implements checkpoint.Store.
func (s *Store) RecordFolder(ctx context.Context, runID, pathKey string, uid perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("folder"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	snap.Folders[pathKey] = uid
	return nil
}

// RecordShare implements checkpoint.Store.
func (s *Store) RecordShare(ctx context.Context, runID string, key perms.GrantKey, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("share"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	snap.Shares[key] = folderUID
	return nil
}

// RecordUnshare implements checkpoint.Store.
func (s *Store) RecordUnshare(ctx context.Context, runID string, key perms.GrantKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("unshare"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	snap.Unshares[key] = struct{}{}
	return nil
}

// RecordPermission implements checkpoint.Store.
func (s *Store) RecordPermission(ctx context.Context, runID string, teamUID perms.EntityUID, caps perms.Capabilities) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("permission"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	snap.Permissions[teamUID] = caps
	return nil
}

// RecordRowOutcome implements checkpoint.Store.
func (s *Store) RecordRowOutcome(ctx context.Context, runID string, recordUID perms.EntityUID, outcome checkpoint.RowOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("row_outcome"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	snap.RowOutcomes[recordUID] = outcome
	return nil
}

// MarkComplete implements checkpoint.Store.
func (s *Store) MarkComplete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("complete"); err != nil {
		return err
	}
	snap, err := s.get(runID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	snap.CompletedAt = &now
	return nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return checkpoint.ErrNotFound
	}
	delete(s.runs, runID)
	return nil
}

// Close implements checkpoint.Store.
func (s *Store) Close() error { return nil }

func clone(snap *checkpoint.Snapshot) *checkpoint.Snapshot {
	out := checkpoint.NewSnapshot(snap.RunInfo)
	if snap.CompletedAt != nil {
		t := *snap.CompletedAt
		out.CompletedAt = &t
	}
	for k, v := range snap.Folders {
		out.Folders[k] = v
	}
	for k, v := range snap.Shares {
		out.Shares[k] = v
	}
	for k := range snap.Unshares {
		out.Unshares[k] = struct{}{}
	}
	for k, v := range snap.Permissions {
		out.Permissions[k] = v
	}
	for k, v := range snap.RowOutcomes {
		out.RowOutcomes[k] = v
	}
	return out
}
