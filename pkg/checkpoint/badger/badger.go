// Package badger implements the checkpoint store on BadgerDB.
//
// Each run's markers live under a key prefix derived from the run ID, so a
// snapshot is a single prefix scan and pruning a run is a prefix delete.
// The database is opened with synchronous writes: a Record* call does not
// return until the marker is durable on disk.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// Store is a BadgerDB-backed checkpoint.Store.
type Store struct {
	db *badgerdb.DB
}

var _ checkpoint.Store = (*Store)(nil)

// Open opens (or creates) the checkpoint database in dir.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close implements checkpoint.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Key layout
// ============================================================================

func keyMeta(runID string) []byte {
	return []byte("meta/" + runID)
}

func runPrefix(runID string) []byte {
	return []byte("run/" + runID + "/")
}

func keyFolder(runID, pathKey string) []byte {
	return []byte("run/" + runID + "/folder/" + pathKey)
}

func keyShare(runID string, k perms.GrantKey) []byte {
	return []byte("run/" + runID + "/share/" + string(k.RecordUID) + "/" + string(k.TeamUID))
}

func keyUnshare(runID string, k perms.GrantKey) []byte {
	return []byte("run/" + runID + "/unshare/" + string(k.RecordUID) + "/" + string(k.TeamUID))
}

func keyPermission(runID string, teamUID perms.EntityUID) []byte {
	return []byte("run/" + runID + "/perm/" + string(teamUID))
}

func keyRow(runID string, recordUID perms.EntityUID) []byte {
	return []byte("run/" + runID + "/row/" + string(recordUID))
}

// ============================================================================
// Store operations
// ============================================================================

func (s *Store) set(op string, key, value []byte) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return &checkpoint.WriteError{Op: op, Err: err}
	}
	return nil
}

// Create implements checkpoint.Store.
func (s *Store) Create(ctx context.Context, runID, csvFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info := checkpoint.RunInfo{RunID: runID, CSVFile: csvFile}
	info.StartedAt = nowUTC()
	value, err := json.Marshal(info)
	if err != nil {
		return &checkpoint.WriteError{Op: "create", Err: err}
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyMeta(runID)); err == nil {
			return fmt.Errorf("run %s already exists", runID)
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Set(keyMeta(runID), value)
	})
	if err != nil {
		return &checkpoint.WriteError{Op: "create", Err: err}
	}
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, runID string) (*checkpoint.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *checkpoint.Snapshot
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyMeta(runID))
		if err == badgerdb.ErrKeyNotFound {
			return checkpoint.ErrNotFound
		}
		if err != nil {
			return err
		}

		var info checkpoint.RunInfo
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return fmt.Errorf("failed to decode run metadata: %w", err)
		}
		snap = checkpoint.NewSnapshot(info)

		prefix := runPrefix(runID)
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := bytes.TrimPrefix(item.Key(), prefix)
			if err := decodeMarker(snap, rest, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// decodeMarker folds one run-prefixed entry into the snapshot.
func decodeMarker(snap *checkpoint.Snapshot, rest []byte, item *badgerdb.Item) error {
	kind, arg, ok := bytes.Cut(rest, []byte("/"))
	if !ok {
		return fmt.Errorf("malformed checkpoint key %q", item.Key())
	}

	switch string(kind) {
	case "folder":
		return item.Value(func(val []byte) error {
			snap.Folders[string(arg)] = perms.EntityUID(val)
			return nil
		})
	case "share", "unshare":
		recordUID, teamUID, ok := bytes.Cut(arg, []byte("/"))
		if !ok {
			return fmt.Errorf("malformed %s key %q", kind, item.Key())
		}
		key := perms.GrantKey{
			RecordUID: perms.EntityUID(recordUID),
			TeamUID:   perms.EntityUID(teamUID),
		}
		if string(kind) == "share" {
			return item.Value(func(val []byte) error {
				snap.Shares[key] = perms.EntityUID(val)
				return nil
			})
		}
		snap.Unshares[key] = struct{}{}
		return nil
	case "perm":
		return item.Value(func(val []byte) error {
			var caps perms.Capabilities
			if err := json.Unmarshal(val, &caps); err != nil {
				return fmt.Errorf("failed to decode permission tuple: %w", err)
			}
			snap.Permissions[perms.EntityUID(arg)] = caps
			return nil
		})
	case "row":
		return item.Value(func(val []byte) error {
			var outcome checkpoint.RowOutcome
			if err := json.Unmarshal(val, &outcome); err != nil {
				return fmt.Errorf("failed to decode row outcome: %w", err)
			}
			snap.RowOutcomes[perms.EntityUID(arg)] = outcome
			return nil
		})
	default:
		return fmt.Errorf("unknown checkpoint marker %q", kind)
	}
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context) ([]checkpoint.RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []checkpoint.RunInfo
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte("meta/")
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var info checkpoint.RunInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return fmt.Errorf("failed to decode run metadata: %w", err)
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
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
	return s.set("folder", keyFolder(runID, pathKey), []byte(uid))
}

// RecordShare implements checkpoint.Store.
func (s *Store) RecordShare(ctx context.Context, runID string, key perms.GrantKey, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.set("share", keyShare(runID, key), []byte(folderUID))
}

// RecordUnshare implements checkpoint.Store.
func (s *Store) RecordUnshare(ctx context.Context, runID string, key perms.GrantKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.set("unshare", keyUnshare(runID, key), nil)
}

// RecordPermission implements checkpoint.Store.
func (s *Store) RecordPermission(ctx context.Context, runID string, teamUID perms.EntityUID, caps perms.Capabilities) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(caps)
	if err != nil {
		return &checkpoint.WriteError{Op: "permission", Err: err}
	}
	return s.set("permission", keyPermission(runID, teamUID), value)
}

// RecordRowOutcome implements checkpoint.Store.
func (s *Store) RecordRowOutcome(ctx context.Context, runID string, recordUID perms.EntityUID, outcome checkpoint.RowOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(outcome)
	if err != nil {
		return &checkpoint.WriteError{Op: "row_outcome", Err: err}
	}
	return s.set("row_outcome", keyRow(runID, recordUID), value)
}

// MarkComplete implements checkpoint.Store.
func (s *Store) MarkComplete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyMeta(runID))
		if err == badgerdb.ErrKeyNotFound {
			return checkpoint.ErrNotFound
		}
		if err != nil {
			return err
		}
		var info checkpoint.RunInfo
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return err
		}
		now := nowUTC()
		info.CompletedAt = &now
		value, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return txn.Set(keyMeta(runID), value)
	})
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return err
		}
		return &checkpoint.WriteError{Op: "complete", Err: err}
	}
	return nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyMeta(runID)); err == badgerdb.ErrKeyNotFound {
			return checkpoint.ErrNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(keyMeta(runID)); err != nil {
			return err
		}

		prefix := runPrefix(runID)
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
