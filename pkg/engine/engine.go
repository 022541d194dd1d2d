// Package engine executes run plans against a vault backend. Execution is
// idempotent: every completed operation is checkpointed synchronously, so
// an interrupted run can resume and only pay for the work that is left.
//
// Team sequences are independent by construction, which lets a bounded
// worker pool run them in parallel. The prelude (the root folder ensure)
// runs exactly once before any worker starts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/msawczynk/keeper-perms-automation/internal/logger"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/metrics"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/plan"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
)

// Default executor tuning. Overridable through Options and the apply
// section of the configuration file.
const (
	DefaultWorkers      = 4
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultCallTimeout  = 30 * time.Second
)

// Options tunes plan execution.
type Options struct {
	// Workers bounds the number of team sequences executed concurrently.
	Workers int

	// MaxRetries is the retry budget per backend call for transient
	// failures (timeouts, rate limits).
	MaxRetries int

	// RetryBackoff is the initial delay before a retry; it doubles per
	// attempt.
	RetryBackoff time.Duration

	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration

	// Metrics receives per-operation and per-row observations. Nil
	// disables instrumentation.
	Metrics *metrics.RunMetrics
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Result summarizes a run.
type Result struct {
	// Succeeded counts operations that reached the backend and completed.
	Succeeded int

	// Skipped counts operations satisfied from the checkpoint without a
	// backend call.
	Skipped int

	// Failed counts operations that exhausted their retries or were
	// blocked by an earlier failure in their team.
	Failed int

	// RowOutcomes holds the final per-record results, including outcomes
	// carried over from an interrupted attempt of the same run.
	RowOutcomes map[perms.EntityUID]checkpoint.RowOutcome

	// Duration is the wall-clock time of this execution.
	Duration time.Duration
}

// FailedRows counts rows whose outcome is a failure.
func (r *Result) FailedRows() int {
	n := 0
	for _, outcome := range r.RowOutcomes {
		if !outcome.Success {
			n++
		}
	}
	return n
}

// Executor runs plans against an adapter, checkpointing progress.
type Executor struct {
	adapter vault.Adapter
	store   checkpoint.Store
	opts    Options
}

// New builds an executor. Zero option fields fall back to the defaults.
func New(adapter vault.Adapter, store checkpoint.Store, opts Options) *Executor {
	return &Executor{adapter: adapter, store: store, opts: opts.withDefaults()}
}

// state is the shared mutable context of one Run call.
type state struct {
	runID   string
	current *checkpoint.Snapshot
	prior   *checkpoint.Snapshot
	folders *folderCache
	rows    *rowTracker

	mu  sync.Mutex
	res Result

	cancel    context.CancelFunc
	fatalOnce sync.Once
	fatalErr  error
}

func (st *state) addSucceeded() {
	st.mu.Lock()
	st.res.Succeeded++
	st.mu.Unlock()
}

func (st *state) addSkipped() {
	st.mu.Lock()
	st.res.Skipped++
	st.mu.Unlock()
}

func (st *state) addFailed() {
	st.mu.Lock()
	st.res.Failed++
	st.mu.Unlock()
}

// setFatal records the first fatal error and cancels all workers.
func (st *state) setFatal(err error) {
	st.fatalOnce.Do(func() {
		st.fatalErr = err
		st.cancel()
	})
}

// markShare records a completed share in the in-memory snapshot so later
// ops of the same run observe it.
func (st *state) markShare(key perms.GrantKey, folderUID perms.EntityUID) {
	st.mu.Lock()
	st.current.Shares[key] = folderUID
	st.mu.Unlock()
}

func (st *state) markUnshare(key perms.GrantKey) {
	st.mu.Lock()
	st.current.Unshares[key] = struct{}{}
	st.mu.Unlock()
}

func (st *state) markPermission(teamUID perms.EntityUID, caps perms.Capabilities) {
	st.mu.Lock()
	st.current.Permissions[teamUID] = caps
	st.mu.Unlock()
}

func (st *state) hasShare(key perms.GrantKey) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.HasShare(key)
}

func (st *state) hasUnshare(key perms.GrantKey) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.HasUnshare(key)
}

func (st *state) permission(teamUID perms.EntityUID) (perms.Capabilities, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current.Permission(teamUID)
}

// Run executes the plan for runID.
//
// current is the run's own checkpoint snapshot (empty for a fresh run,
// populated on --resume); prior is the most recent completed run's
// snapshot, used to skip work that run already did. Both may be nil.
//
// A partial Result is returned alongside the error when execution aborts.
func (e *Executor) Run(ctx context.Context, runID string, p *plan.Plan, current, prior *checkpoint.Snapshot) (*Result, error) {
	start := time.Now()

	if current == nil {
		current = checkpoint.NewSnapshot(checkpoint.RunInfo{RunID: runID})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &state{
		runID:   runID,
		current: current,
		prior:   prior,
		folders: newFolderCache(current.Folders),
		rows:    newRowTracker(e.store, runID, p, current, e.opts.Metrics),
		cancel:  cancel,
	}

	log := logger.With(logger.KeyRunID, runID)
	log.Info("starting run",
		logger.KeyCount, p.Len(),
		"teams", len(p.Teams),
		"workers", e.opts.Workers)

	// Prelude: the root folder. Nothing else can proceed without it, so
	// any failure here aborts the run with the checkpoint intact.
	for _, op := range p.Prelude {
		if err := e.execute(ctx, st, op); err != nil {
			st.mu.Lock()
			res := st.res
			st.mu.Unlock()
			res.RowOutcomes = st.rows.outcomes()
			res.Duration = time.Since(start)
			return &res, fmt.Errorf("root folder setup failed: %w", err)
		}
	}

	teams := make(chan plan.TeamPlan)
	var wg sync.WaitGroup
	workers := e.opts.Workers
	if workers > len(p.Teams) {
		workers = len(p.Teams)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tp := range teams {
				e.runTeam(ctx, st, tp)
			}
		}()
	}

feed:
	for _, tp := range p.Teams {
		select {
		case teams <- tp:
		case <-ctx.Done():
			break feed
		}
	}
	close(teams)
	wg.Wait()

	st.mu.Lock()
	res := st.res
	fatal := st.fatalErr
	st.mu.Unlock()
	res.RowOutcomes = st.rows.outcomes()
	res.Duration = time.Since(start)
	e.opts.Metrics.ObserveRun(res.Duration)

	if fatal != nil {
		log.Error("run aborted",
			logger.KeyError, fatal.Error(),
			"succeeded", res.Succeeded,
			"skipped", res.Skipped,
			"failed", res.Failed)
		return &res, fatal
	}
	if err := ctx.Err(); err != nil {
		log.Warn("run interrupted",
			"succeeded", res.Succeeded,
			"skipped", res.Skipped)
		return &res, err
	}

	if err := e.store.MarkComplete(ctx, runID); err != nil {
		return &res, err
	}
	log.Info("run complete",
		"succeeded", res.Succeeded,
		"skipped", res.Skipped,
		"failed", res.Failed,
		logger.KeyDuration, res.Duration)
	return &res, nil
}

// runTeam executes one team's sequence. A folder failure blocks every
// later op of the team, so the remainder is marked failed and the worker
// moves on to the next team.
func (e *Executor) runTeam(ctx context.Context, st *state, tp plan.TeamPlan) {
	log := logger.With(
		logger.KeyRunID, st.runID,
		logger.KeyTeamUID, string(tp.Team.UID),
		logger.KeyTeamName, tp.Team.Name)
	log.Debug("starting team", logger.KeyCount, len(tp.Ops))

	for i, op := range tp.Ops {
		if ctx.Err() != nil {
			return
		}
		err := e.execute(ctx, st, op)
		if err == nil {
			continue
		}
		if isFatal(err) {
			st.setFatal(err)
			return
		}

		log.Error("operation failed",
			logger.KeyOperation, op.Type.String(),
			logger.KeyRecordUID, string(op.RecordUID),
			logger.KeyError, err.Error())

		switch op.Type {
		case plan.OpEnsureTeamFolder, plan.OpEnsurePathFolder:
			e.failRemaining(ctx, st, tp.Ops[i:], err)
			return
		default:
			st.addFailed()
			if op.RecordUID != "" {
				if werr := st.rows.fail(ctx, op.RecordUID, err); werr != nil {
					st.setFatal(werr)
					return
				}
			}
		}
	}
}

// failRemaining marks a blocked tail of a team sequence as failed and
// writes failure outcomes for every record it carries.
func (e *Executor) failRemaining(ctx context.Context, st *state, ops []plan.Op, cause error) {
	for _, op := range ops {
		st.addFailed()
		if op.RecordUID == "" {
			continue
		}
		if err := st.rows.fail(ctx, op.RecordUID, cause); err != nil {
			st.setFatal(err)
			return
		}
	}
}

// isFatal reports whether the error must abort the whole run: a lost
// session, a checkpoint write failure, or cancellation.
func isFatal(err error) bool {
	if vault.IsFatal(err) {
		return true
	}
	var werr *checkpoint.WriteError
	if errors.As(err, &werr) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
