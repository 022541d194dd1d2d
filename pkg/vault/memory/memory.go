// Package memory provides an in-memory vault adapter for tests and dry
// runs. It is deterministic, requires no network, and records call counts
// so tests can assert on idempotency.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
)

type folder struct {
	uid    perms.EntityUID
	parent perms.EntityUID
	name   string
	shared bool
}

type folderKey struct {
	parent perms.EntityUID
	name   string
}

type shareKey struct {
	record perms.EntityUID
	folder perms.EntityUID
}

type teamPermKey struct {
	team   perms.EntityUID
	folder perms.EntityUID
}

// Adapter is an in-memory vault.Adapter implementation.
type Adapter struct {
	mu sync.Mutex

	folders      map[perms.EntityUID]*folder
	foldersByKey map[folderKey]perms.EntityUID
	shares       map[shareKey]struct{}
	teamPerms    map[teamPermKey]perms.Capabilities
	teams        []perms.Team
	records      []perms.Record

	calls     map[string]int
	mutations int

	// ErrOn, when set, is consulted before every call with the operation
	// name and its primary key. A non-nil return is surfaced to the caller
	// without touching state. Tests use it to script failures.
	ErrOn func(op, key string) error
}

// New returns an empty in-memory vault.
func New() *Adapter {
	return &Adapter{
		folders:      make(map[perms.EntityUID]*folder),
		foldersByKey: make(map[folderKey]perms.EntityUID),
		shares:       make(map[shareKey]struct{}),
		teamPerms:    make(map[teamPermKey]perms.Capabilities),
		calls:        make(map[string]int),
	}
}

var _ vault.Adapter = (*Adapter)(nil)

// AddTeam seeds a team into the directory.
func (a *Adapter) AddTeam(team perms.Team) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teams = append(a.teams, team)
}

// AddRecord seeds a record.
func (a *Adapter) AddRecord(record perms.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *Adapter) enter(op, key string) error {
	a.calls[op]++
	if a.ErrOn != nil {
		if err := a.ErrOn(op, key); err != nil {
			return err
		}
	}
	return nil
}

// FolderExists implements vault.Adapter.
func (a *Adapter) FolderExists(ctx context.Context, parentUID perms.EntityUID, name string) (perms.EntityUID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("folder_exists", string(parentUID)+"/"+name); err != nil {
		return "", err
	}
	uid, ok := a.foldersByKey[folderKey{parent: parentUID, name: name}]
	if !ok {
		return "", nil
	}
	return uid, nil
}

// CreateFolder implements vault.Adapter.
func (a *Adapter) CreateFolder(ctx context.Context, parentUID perms.EntityUID, name string, shared bool) (perms.EntityUID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("create_folder", string(parentUID)+"/"+name); err != nil {
		return "", err
	}
	key := folderKey{parent: parentUID, name: name}
	if uid, ok := a.foldersByKey[key]; ok {
		return uid, nil
	}
	uid := perms.EntityUID(uuid.NewString())
	a.folders[uid] = &folder{uid: uid, parent: parentUID, name: name, shared: shared}
	a.foldersByKey[key] = uid
	a.mutations++
	return uid, nil
}

// ShareRecordToFolder implements vault.Adapter.
func (a *Adapter) ShareRecordToFolder(ctx context.Context, recordUID, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("share_record", string(recordUID)+"/"+string(folderUID)); err != nil {
		return err
	}
	if _, ok := a.folders[folderUID]; !ok {
		return vault.NewError(vault.ErrNotFound, "folder "+string(folderUID)+" not found", nil)
	}
	key := shareKey{record: recordUID, folder: folderUID}
	if _, ok := a.shares[key]; !ok {
		a.shares[key] = struct{}{}
		a.mutations++
	}
	return nil
}

// UnshareRecord implements vault.Adapter.
func (a *Adapter) UnshareRecord(ctx context.Context, recordUID, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("unshare_record", string(recordUID)+"/"+string(folderUID)); err != nil {
		return err
	}
	key := shareKey{record: recordUID, folder: folderUID}
	if _, ok := a.shares[key]; ok {
		delete(a.shares, key)
		a.mutations++
	}
	return nil
}

// ApplyTeamPermission implements vault.Adapter.
func (a *Adapter) ApplyTeamPermission(ctx context.Context, teamUID, folderUID perms.EntityUID, caps perms.Capabilities) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("apply_team_permission", string(teamUID)+"/"+string(folderUID)); err != nil {
		return err
	}
	f, ok := a.folders[folderUID]
	if !ok {
		return vault.NewError(vault.ErrNotFound, "folder "+string(folderUID)+" not found", nil)
	}
	if !f.shared {
		return vault.NewError(vault.ErrUnknown, "folder "+string(folderUID)+" is not a shared folder", nil)
	}
	a.teamPerms[teamPermKey{team: teamUID, folder: folderUID}] = caps
	a.mutations++
	return nil
}

// ListTeams implements vault.Adapter.
func (a *Adapter) ListTeams(ctx context.Context) ([]perms.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("list_teams", ""); err != nil {
		return nil, err
	}
	out := make([]perms.Team, len(a.teams))
	copy(out, a.teams)
	return out, nil
}

// ListRecords implements vault.Adapter.
func (a *Adapter) ListRecords(ctx context.Context) ([]perms.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("list_records", ""); err != nil {
		return nil, err
	}
	out := make([]perms.Record, len(a.records))
	copy(out, a.records)
	return out, nil
}

// ============================================================================
// Test inspection helpers
// ============================================================================

// Mutations returns the number of state-changing operations applied so far.
// Idempotent repeats (sharing an already-linked record) do not count.
func (a *Adapter) Mutations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mutations
}

// Calls returns per-operation call counts.
func (a *Adapter) Calls() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.calls))
	for k, v := range a.calls {
		out[k] = v
	}
	return out
}

// Folder returns the stored folder attributes for a UID.
func (a *Adapter) Folder(uid perms.EntityUID) (parent perms.EntityUID, name string, shared, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, found := a.folders[uid]
	if !found {
		return "", "", false, false
	}
	return f.parent, f.name, f.shared, true
}

// FolderByName resolves a folder UID by (parent, name).
func (a *Adapter) FolderByName(parent perms.EntityUID, name string) (perms.EntityUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	uid, ok := a.foldersByKey[folderKey{parent: parent, name: name}]
	return uid, ok
}

// HasShare reports whether the record is linked into the folder.
func (a *Adapter) HasShare(recordUID, folderUID perms.EntityUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.shares[shareKey{record: recordUID, folder: folderUID}]
	return ok
}

// TeamPermission returns the capability tuple applied for a team on a folder.
func (a *Adapter) TeamPermission(teamUID, folderUID perms.EntityUID) (perms.Capabilities, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	caps, ok := a.teamPerms[teamPermKey{team: teamUID, folder: folderUID}]
	return caps, ok
}
