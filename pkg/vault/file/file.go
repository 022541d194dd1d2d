// Package file implements a vault adapter persisted to a local YAML file.
//
// It stands in for the real backend where the Keeper transport is not
// wired: the state file models the vault's teams, records, folders, and
// shares, and every mutation is written back synchronously. The same
// durability property the engine expects from a live backend holds here,
// which makes the adapter usable for full end-to-end runs.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
	"github.com/msawczynk/keeper-perms-automation/pkg/vault"
)

// Folder is one folder node in the state file.
type Folder struct {
	UID    perms.EntityUID `yaml:"uid"`
	Parent perms.EntityUID `yaml:"parent,omitempty"`
	Name   string          `yaml:"name"`
	Shared bool            `yaml:"shared,omitempty"`
}

// Share links a record into a folder.
type Share struct {
	RecordUID perms.EntityUID `yaml:"record_uid"`
	FolderUID perms.EntityUID `yaml:"folder_uid"`
}

// Permission is a team's capability tuple on a shared folder.
type Permission struct {
	TeamUID   perms.EntityUID `yaml:"team_uid"`
	FolderUID perms.EntityUID `yaml:"folder_uid"`
	CanEdit   bool            `yaml:"can_edit"`
	CanShare  bool            `yaml:"can_share"`
	ManageRec bool            `yaml:"manage_records"`
	ManageUsr bool            `yaml:"manage_users"`
}

// Record is one vault record in the state file.
type Record struct {
	UID        perms.EntityUID `yaml:"uid"`
	Title      string          `yaml:"title"`
	FolderPath []string        `yaml:"folder_path,omitempty"`
}

// Team is one vault team in the state file.
type Team struct {
	UID  perms.EntityUID `yaml:"uid"`
	Name string          `yaml:"name"`
}

type state struct {
	Teams       []Team       `yaml:"teams,omitempty"`
	Records     []Record     `yaml:"records,omitempty"`
	Folders     []Folder     `yaml:"folders,omitempty"`
	Shares      []Share      `yaml:"shares,omitempty"`
	Permissions []Permission `yaml:"permissions,omitempty"`
}

// Adapter is a file-backed vault.Adapter.
type Adapter struct {
	mu    sync.Mutex
	path  string
	state state
}

var _ vault.Adapter = (*Adapter)(nil)

// Open loads the vault state file. A missing file starts empty and is
// created on the first mutation.
func Open(path string) (*Adapter, error) {
	a := &Adapter{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &a.state); err != nil {
		return nil, fmt.Errorf("failed to parse vault file %s: %w", path, err)
	}
	return a, nil
}

// save writes the state back to disk. Called with the mutex held.
func (a *Adapter) save() error {
	data, err := yaml.Marshal(&a.state)
	if err != nil {
		return vault.NewError(vault.ErrUnknown, "failed to encode vault state", err)
	}
	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return vault.NewError(vault.ErrUnknown, "failed to create vault directory", err)
		}
	}
	if err := os.WriteFile(a.path, data, 0o600); err != nil {
		return vault.NewError(vault.ErrUnknown, "failed to write vault file", err)
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
	for _, f := range a.state.Folders {
		if f.Parent == parentUID && f.Name == name {
			return f.UID, nil
		}
	}
	return "", nil
}

// CreateFolder implements vault.Adapter.
func (a *Adapter) CreateFolder(ctx context.Context, parentUID perms.EntityUID, name string, shared bool) (perms.EntityUID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.state.Folders {
		if f.Parent == parentUID && f.Name == name {
			return f.UID, nil
		}
	}
	uid := perms.EntityUID(uuid.NewString())
	a.state.Folders = append(a.state.Folders, Folder{
		UID:    uid,
		Parent: parentUID,
		Name:   name,
		Shared: shared,
	})
	if err := a.save(); err != nil {
		return "", err
	}
	return uid, nil
}

// ShareRecordToFolder implements vault.Adapter.
func (a *Adapter) ShareRecordToFolder(ctx context.Context, recordUID, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.folderExists(folderUID) {
		return vault.NewError(vault.ErrNotFound, "folder "+string(folderUID)+" not found", nil)
	}
	for _, s := range a.state.Shares {
		if s.RecordUID == recordUID && s.FolderUID == folderUID {
			return nil
		}
	}
	a.state.Shares = append(a.state.Shares, Share{RecordUID: recordUID, FolderUID: folderUID})
	return a.save()
}

// UnshareRecord implements vault.Adapter.
func (a *Adapter) UnshareRecord(ctx context.Context, recordUID, folderUID perms.EntityUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.state.Shares {
		if s.RecordUID == recordUID && s.FolderUID == folderUID {
			a.state.Shares = append(a.state.Shares[:i], a.state.Shares[i+1:]...)
			return a.save()
		}
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
	var target *Folder
	for i := range a.state.Folders {
		if a.state.Folders[i].UID == folderUID {
			target = &a.state.Folders[i]
			break
		}
	}
	if target == nil {
		return vault.NewError(vault.ErrNotFound, "folder "+string(folderUID)+" not found", nil)
	}
	if !target.Shared {
		return vault.NewError(vault.ErrUnknown, "folder "+string(folderUID)+" is not a shared folder", nil)
	}

	perm := Permission{
		TeamUID:   teamUID,
		FolderUID: folderUID,
		CanEdit:   caps.CanEdit,
		CanShare:  caps.CanShare,
		ManageRec: caps.ManageRecords,
		ManageUsr: caps.ManageUsers,
	}
	for i := range a.state.Permissions {
		if a.state.Permissions[i].TeamUID == teamUID && a.state.Permissions[i].FolderUID == folderUID {
			a.state.Permissions[i] = perm
			return a.save()
		}
	}
	a.state.Permissions = append(a.state.Permissions, perm)
	return a.save()
}

// ListTeams implements vault.Adapter.
func (a *Adapter) ListTeams(ctx context.Context) ([]perms.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]perms.Team, 0, len(a.state.Teams))
	for _, t := range a.state.Teams {
		out = append(out, perms.Team{UID: t.UID, Name: t.Name})
	}
	return out, nil
}

// ListRecords implements vault.Adapter.
func (a *Adapter) ListRecords(ctx context.Context) ([]perms.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]perms.Record, 0, len(a.state.Records))
	for _, r := range a.state.Records {
		out = append(out, perms.Record{UID: r.UID, Title: r.Title, FolderPath: r.FolderPath})
	}
	return out, nil
}

func (a *Adapter) folderExists(uid perms.EntityUID) bool {
	for _, f := range a.state.Folders {
		if f.UID == uid {
			return true
		}
	}
	return false
}
