// Package plan computes the ordered operation sequences that converge the
// backend toward the desired state. Plans are built per team and are
// independent of each other, which is what allows the executor to run
// teams in parallel.
package plan

import (
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// OpType enumerates planned operation kinds.
type OpType int

const (
	// OpEnsureRootFolder ensures the private root container. Planned once
	// per run, before any team work.
	OpEnsureRootFolder OpType = iota

	// OpEnsureTeamFolder ensures a team's shared folder under the root.
	OpEnsureTeamFolder

	// OpEnsurePathFolder ensures one private subfolder segment mirroring a
	// record's folder path beneath the team folder.
	OpEnsurePathFolder

	// OpShareRecord links a record into its deepest mirrored folder.
	OpShareRecord

	// OpUnshareRecord removes a previously completed share whose cell is
	// now blank.
	OpUnshareRecord

	// OpApplyTeamPermission sets the team's capability tuple on its shared
	// folder.
	OpApplyTeamPermission
)

// String returns a short name for logs and reports.
func (t OpType) String() string {
	switch t {
	case OpEnsureRootFolder:
		return "ensure_root_folder"
	case OpEnsureTeamFolder:
		return "ensure_team_folder"
	case OpEnsurePathFolder:
		return "ensure_path_folder"
	case OpShareRecord:
		return "share_record"
	case OpUnshareRecord:
		return "unshare_record"
	case OpApplyTeamPermission:
		return "apply_team_permission"
	default:
		return "unknown"
	}
}

// Op is a single planned operation. Folders are addressed by logical path
// key until the backend assigns a UID; the executor resolves keys through
// the run's folder cache.
type Op struct {
	Type OpType

	// FolderKey is the logical key of the folder this op ensures or
	// targets. Empty for OpUnshareRecord, which targets FolderUID.
	FolderKey string

	// ParentKey is the logical key of the parent folder for ensures.
	ParentKey string

	// Name is the display name for folder creation.
	Name string

	// Shared marks the folder as a shared container (team folders only).
	Shared bool

	// RecordUID is the owning record for shares, unshares, and the path
	// ensures a grant triggered. Row outcomes are keyed by it.
	RecordUID perms.EntityUID

	// TeamUID is the owning team for shares, unshares, and permissions.
	TeamUID perms.EntityUID

	// FolderUID is the concrete target for OpUnshareRecord, taken from the
	// prior run's checkpoint.
	FolderUID perms.EntityUID

	// Capabilities is the tuple for OpApplyTeamPermission.
	Capabilities perms.Capabilities
}

// TeamPlan is one team's ordered operation sequence.
type TeamPlan struct {
	Team perms.Team
	Ops  []Op
}

// Plan is a full run plan: a prelude executed exactly once before any team
// worker starts, then independent per-team sequences.
type Plan struct {
	// Prelude holds the root folder ensure, memoized for the whole run.
	Prelude []Op

	// Teams holds per-team sequences, ordered by team UID.
	Teams []TeamPlan

	// Warnings are non-fatal findings (skipped teams, excluded folders).
	Warnings []string
}

// Ops returns every operation in execution order (prelude, then each team
// in order). Used by dry-run rendering and tests.
func (p *Plan) Ops() []Op {
	out := make([]Op, 0, p.Len())
	out = append(out, p.Prelude...)
	for _, tp := range p.Teams {
		out = append(out, tp.Ops...)
	}
	return out
}

// Len returns the total operation count.
func (p *Plan) Len() int {
	n := len(p.Prelude)
	for _, tp := range p.Teams {
		n += len(tp.Ops)
	}
	return n
}
