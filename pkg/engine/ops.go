package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msawczynk/keeper-perms-automation/internal/logger"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/plan"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
)

// execute dispatches one planned operation. A nil return means the op
// either completed or was satisfied from the checkpoint.
func (e *Executor) execute(ctx context.Context, st *state, op plan.Op) error {
	switch op.Type {
	case plan.OpEnsureRootFolder, plan.OpEnsureTeamFolder, plan.OpEnsurePathFolder:
		return e.ensureFolder(ctx, st, op)
	case plan.OpShareRecord:
		return e.shareRecord(ctx, st, op)
	case plan.OpUnshareRecord:
		return e.unshareRecord(ctx, st, op)
	case plan.OpApplyTeamPermission:
		return e.applyPermission(ctx, st, op)
	default:
		return fmt.Errorf("unknown operation type %d", op.Type)
	}
}

// ensureFolder resolves or creates the folder behind a logical path key.
// Reuse before create: an existing folder with the same name under the
// same parent is adopted, never duplicated. A folder the prior completed
// run already resolved is copied forward into this run's checkpoint
// without a backend call; folder creation is monotonic, so the cached UID
// stays valid.
func (e *Executor) ensureFolder(ctx context.Context, st *state, op plan.Op) error {
	if _, ok := st.folders.get(op.FolderKey); ok {
		st.addSkipped()
		e.opts.Metrics.ObserveSkip(op.Type.String())
		return st.completeRow(ctx, op)
	}

	if st.prior != nil {
		if uid, ok := st.prior.FolderUID(op.FolderKey); ok {
			if err := e.store.RecordFolder(ctx, st.runID, op.FolderKey, uid); err != nil {
				return err
			}
			st.folders.put(op.FolderKey, uid)
			st.addSkipped()
			e.opts.Metrics.ObserveSkip(op.Type.String())
			return st.completeRow(ctx, op)
		}
	}

	var parentUID perms.EntityUID
	if op.ParentKey != "" {
		uid, ok := st.folders.get(op.ParentKey)
		if !ok {
			return fmt.Errorf("parent folder %s not resolved for %s", op.ParentKey, op.FolderKey)
		}
		parentUID = uid
	}

	var uid perms.EntityUID
	err := e.call(ctx, op.Type.String(), func(callCtx context.Context) error {
		existing, err := e.adapter.FolderExists(callCtx, parentUID, op.Name)
		if err != nil {
			return err
		}
		if existing != "" {
			uid = existing
			return nil
		}
		created, err := e.adapter.CreateFolder(callCtx, parentUID, op.Name, op.Shared)
		if err != nil {
			return err
		}
		uid = created
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.store.RecordFolder(ctx, st.runID, op.FolderKey, uid); err != nil {
		return err
	}
	st.folders.put(op.FolderKey, uid)
	st.addSucceeded()
	logger.Debug("folder ensured",
		logger.KeyRunID, st.runID,
		logger.KeyFolderKey, op.FolderKey,
		logger.KeyFolderUID, string(uid))
	return st.completeRow(ctx, op)
}

// shareRecord links a record into its resolved folder. A share the prior
// completed run already made into the same folder is copied forward into
// this run's checkpoint without a backend call, so a later run can still
// plan its revocation.
func (e *Executor) shareRecord(ctx context.Context, st *state, op plan.Op) error {
	key := perms.GrantKey{RecordUID: op.RecordUID, TeamUID: op.TeamUID}
	if st.hasShare(key) {
		st.addSkipped()
		e.opts.Metrics.ObserveSkip(op.Type.String())
		return st.completeRow(ctx, op)
	}

	folderUID, ok := st.folders.get(op.FolderKey)
	if !ok {
		return fmt.Errorf("folder %s not resolved for record %s", op.FolderKey, op.RecordUID)
	}

	if st.prior != nil && st.prior.Shares[key] == folderUID {
		if err := e.store.RecordShare(ctx, st.runID, key, folderUID); err != nil {
			return err
		}
		st.markShare(key, folderUID)
		st.addSkipped()
		e.opts.Metrics.ObserveSkip(op.Type.String())
		return st.completeRow(ctx, op)
	}

	err := e.call(ctx, op.Type.String(), func(callCtx context.Context) error {
		return e.adapter.ShareRecordToFolder(callCtx, op.RecordUID, folderUID)
	})
	if err != nil {
		return err
	}

	if err := e.store.RecordShare(ctx, st.runID, key, folderUID); err != nil {
		return err
	}
	st.markShare(key, folderUID)
	st.addSucceeded()
	return st.completeRow(ctx, op)
}

// unshareRecord removes a share whose CSV cell went blank. The target
// folder UID comes from the prior run's checkpoint.
func (e *Executor) unshareRecord(ctx context.Context, st *state, op plan.Op) error {
	key := perms.GrantKey{RecordUID: op.RecordUID, TeamUID: op.TeamUID}
	if st.hasUnshare(key) {
		st.addSkipped()
		e.opts.Metrics.ObserveSkip(op.Type.String())
		return st.completeRow(ctx, op)
	}

	err := e.call(ctx, op.Type.String(), func(callCtx context.Context) error {
		return e.adapter.UnshareRecord(callCtx, op.RecordUID, op.FolderUID)
	})
	if err != nil {
		return err
	}

	if err := e.store.RecordUnshare(ctx, st.runID, key); err != nil {
		return err
	}
	st.markUnshare(key)
	st.addSucceeded()
	logger.Info("share revoked",
		logger.KeyRunID, st.runID,
		logger.KeyRecordUID, string(op.RecordUID),
		logger.KeyTeamUID, string(op.TeamUID))
	return st.completeRow(ctx, op)
}

// applyPermission sets the team's capability tuple on its shared folder.
// Skipped only when the recorded tuple matches the desired one; a tuple
// change always reaches the backend.
func (e *Executor) applyPermission(ctx context.Context, st *state, op plan.Op) error {
	if caps, ok := st.permission(op.TeamUID); ok && caps == op.Capabilities {
		st.addSkipped()
		e.opts.Metrics.ObserveSkip(op.Type.String())
		return nil
	}

	if st.prior != nil {
		if caps, ok := st.prior.Permission(op.TeamUID); ok && caps == op.Capabilities {
			if err := e.store.RecordPermission(ctx, st.runID, op.TeamUID, op.Capabilities); err != nil {
				return err
			}
			st.markPermission(op.TeamUID, op.Capabilities)
			st.addSkipped()
			e.opts.Metrics.ObserveSkip(op.Type.String())
			return nil
		}
	}

	folderUID, ok := st.folders.get(op.FolderKey)
	if !ok {
		return fmt.Errorf("team folder %s not resolved", op.FolderKey)
	}

	err := e.call(ctx, op.Type.String(), func(callCtx context.Context) error {
		return e.adapter.ApplyTeamPermission(callCtx, op.TeamUID, folderUID, op.Capabilities)
	})
	if err != nil {
		return err
	}

	if err := e.store.RecordPermission(ctx, st.runID, op.TeamUID, op.Capabilities); err != nil {
		return err
	}
	st.markPermission(op.TeamUID, op.Capabilities)
	st.addSucceeded()
	return nil
}

// completeRow notes that one of the record's planned ops finished.
func (st *state) completeRow(ctx context.Context, op plan.Op) error {
	if op.RecordUID == "" {
		return nil
	}
	return st.rows.complete(ctx, op.RecordUID)
}

// call invokes fn with a per-call timeout, retrying transient failures
// with exponential backoff. A timeout of the call context itself is
// treated as a retryable backend timeout.
func (e *Executor) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	backoff := e.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		start := time.Now()
		err := fn(callCtx)
		cancel()
		if err == nil {
			e.opts.Metrics.ObserveOperation(operation, "success", time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = vault.NewError(vault.ErrTimeout, operation+" timed out", err)
		}
		if !vault.IsRetryable(err) || attempt > e.opts.MaxRetries {
			e.opts.Metrics.ObserveOperation(operation, "failed", time.Since(start))
			return err
		}

		e.opts.Metrics.ObserveRetry(operation)
		logger.Warn("retrying operation",
			logger.KeyOperation, operation,
			logger.KeyAttempt, attempt,
			logger.KeyError, err.Error())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}
