// Package vault defines the backend adapter interface the planner and
// executor operate against. A conforming implementation talks to the real
// vault; the memory subpackage provides an in-process fake for tests and
// dry runs. Authentication, the wire protocol, and encryption live behind
// the adapter and are out of scope here.
package vault

import (
	"context"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// Adapter is the fixed capability set the engine needs from a vault backend.
//
// All calls take a context; implementations are expected to honor
// caller-supplied timeouts. Mutating calls must be safe to repeat: the
// executor retries on transient failure and re-runs after resume.
type Adapter interface {
	// FolderExists looks up a folder by exact name under a parent.
	// parentUID is empty for the vault root. Returns ("", nil) when absent.
	FolderExists(ctx context.Context, parentUID perms.EntityUID, name string) (perms.EntityUID, error)

	// CreateFolder creates a folder under a parent and returns its UID.
	// shared selects a shared container (team folders) over a private one.
	CreateFolder(ctx context.Context, parentUID perms.EntityUID, name string, shared bool) (perms.EntityUID, error)

	// ShareRecordToFolder links a record into a folder.
	// Sharing an already-linked record is not an error.
	ShareRecordToFolder(ctx context.Context, recordUID, folderUID perms.EntityUID) error

	// UnshareRecord removes a record link from a folder.
	// Unsharing a record that is not linked is not an error.
	UnshareRecord(ctx context.Context, recordUID, folderUID perms.EntityUID) error

	// ApplyTeamPermission sets a team's capability tuple on a shared folder,
	// replacing any previous tuple for that team.
	ApplyTeamPermission(ctx context.Context, teamUID, folderUID perms.EntityUID, caps perms.Capabilities) error

	// ListTeams returns the vault's team directory.
	ListTeams(ctx context.Context) ([]perms.Team, error)

	// ListRecords returns the records visible to the session, with their
	// organizational folder paths. Used by template generation, not by the
	// reconciliation core.
	ListRecords(ctx context.Context) ([]perms.Record, error)
}
