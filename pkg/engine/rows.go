package engine

import (
	"context"
	"sync"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/metrics"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/plan"
)

// folderCache maps logical folder path keys to backend UIDs for the
// duration of a run. Seeded from the checkpoint on resume.
type folderCache struct {
	mu   sync.RWMutex
	uids map[string]perms.EntityUID
}

func newFolderCache(seed map[string]perms.EntityUID) *folderCache {
	uids := make(map[string]perms.EntityUID, len(seed))
	for key, uid := range seed {
		uids[key] = uid
	}
	return &folderCache{uids: uids}
}

func (c *folderCache) get(key string) (perms.EntityUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uid, ok := c.uids[key]
	return uid, ok
}

func (c *folderCache) put(key string, uid perms.EntityUID) {
	c.mu.Lock()
	c.uids[key] = uid
	c.mu.Unlock()
}

// rowTracker turns per-operation completions into per-record outcomes.
//
// Each record starts with a pending count equal to the number of planned
// ops that carry its UID. Completions decrement it; when the count hits
// zero without a failure, a success outcome is written. A failure writes
// its outcome immediately and wins over any later completions, including
// completions from other teams sharing the record.
type rowTracker struct {
	store   checkpoint.Store
	runID   string
	metrics *metrics.RunMetrics

	mu       sync.Mutex
	pending  map[perms.EntityUID]int
	failed   map[perms.EntityUID]bool
	recorded map[perms.EntityUID]checkpoint.RowOutcome
}

func newRowTracker(store checkpoint.Store, runID string, p *plan.Plan, current *checkpoint.Snapshot, m *metrics.RunMetrics) *rowTracker {
	t := &rowTracker{
		store:    store,
		runID:    runID,
		metrics:  m,
		pending:  make(map[perms.EntityUID]int),
		failed:   make(map[perms.EntityUID]bool),
		recorded: make(map[perms.EntityUID]checkpoint.RowOutcome),
	}
	for _, op := range p.Ops() {
		if op.RecordUID != "" {
			t.pending[op.RecordUID]++
		}
	}
	// Carry outcomes from an interrupted attempt of the same run; this
	// run's writes overwrite them.
	for uid, outcome := range current.RowOutcomes {
		t.recorded[uid] = outcome
	}
	return t
}

// complete decrements the record's pending count and, on reaching zero
// with no failure, durably records success.
func (t *rowTracker) complete(ctx context.Context, recordUID perms.EntityUID) error {
	t.mu.Lock()
	t.pending[recordUID]--
	done := t.pending[recordUID] <= 0 && !t.failed[recordUID]
	t.mu.Unlock()
	if !done {
		return nil
	}

	outcome := checkpoint.RowOutcome{Success: true}
	if err := t.store.RecordRowOutcome(ctx, t.runID, recordUID, outcome); err != nil {
		return err
	}
	t.mu.Lock()
	t.recorded[recordUID] = outcome
	t.mu.Unlock()
	t.metrics.ObserveRow(true)
	return nil
}

// fail records a failure outcome for the record. The first failure wins;
// repeats are ignored.
func (t *rowTracker) fail(ctx context.Context, recordUID perms.EntityUID, cause error) error {
	t.mu.Lock()
	if t.failed[recordUID] {
		t.mu.Unlock()
		return nil
	}
	t.failed[recordUID] = true
	t.mu.Unlock()

	outcome := checkpoint.RowOutcome{Success: false, Error: cause.Error()}
	if err := t.store.RecordRowOutcome(ctx, t.runID, recordUID, outcome); err != nil {
		return err
	}
	t.mu.Lock()
	t.recorded[recordUID] = outcome
	t.mu.Unlock()
	t.metrics.ObserveRow(false)
	return nil
}

// outcomes returns a copy of everything recorded so far.
func (t *rowTracker) outcomes() map[perms.EntityUID]checkpoint.RowOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[perms.EntityUID]checkpoint.RowOutcome, len(t.recorded))
	for uid, outcome := range t.recorded {
		out[uid] = outcome
	}
	return out
}
