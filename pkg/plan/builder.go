package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/manifest"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// DefaultRootFolderName is the root container created when none is
// configured.
const DefaultRootFolderName = "[Perms]"

// RootKey is the logical path key of the private root folder.
const RootKey = "root"

// TeamKey returns the logical key of a team's shared folder. Identity is
// anchored on the team UID; the name is only the display label, so two
// teams with colliding names never collide here.
func TeamKey(teamUID perms.EntityUID) string {
	return RootKey + "/team:" + string(teamUID)
}

// pathKey returns the logical key of a mirrored subfolder.
func pathKey(teamUID perms.EntityUID, segments []string) string {
	return TeamKey(teamUID) + "/" + strings.Join(segments, manifest.PathSeparator)
}

// Options tunes plan construction.
type Options struct {
	// RootFolderName names the private root container.
	// Defaults to DefaultRootFolderName.
	RootFolderName string

	// ExcludedFolders are backend folder UIDs the plan must never touch.
	// Shares into and revocations from these folders are dropped with a
	// warning.
	ExcludedFolders []perms.EntityUID
}

// Build converts the desired-grant set into a run plan.
//
// prior is the most recent completed run's checkpoint (nil on first run);
// it supplies the completed shares whose cells are now blank, which become
// revocations, and the folder UID cache consulted for exclusion filtering.
// directory is the backend team list, used to label teams that appear only
// in the prior checkpoint.
func Build(desired *manifest.DesiredState, prior *checkpoint.Snapshot, directory []perms.Team, opts Options) *Plan {
	rootName := opts.RootFolderName
	if rootName == "" {
		rootName = DefaultRootFolderName
	}
	excluded := make(map[perms.EntityUID]bool, len(opts.ExcludedFolders))
	for _, uid := range opts.ExcludedFolders {
		excluded[uid] = true
	}
	names := make(map[perms.EntityUID]string, len(directory))
	for _, team := range directory {
		names[team.UID] = team.Name
	}

	p := &Plan{
		Prelude: []Op{{
			Type:      OpEnsureRootFolder,
			FolderKey: RootKey,
			Name:      rootName,
		}},
	}

	// Revocations: completed shares from the prior run whose (record, team)
	// pair has no desired grant anymore. Grouped per team so they ride the
	// owning team's sequence.
	revocations := make(map[perms.EntityUID][]Op)
	if prior != nil {
		for key, folderUID := range prior.Shares {
			if desired.Has(key) {
				continue
			}
			if excluded[folderUID] {
				p.Warnings = append(p.Warnings,
					fmt.Sprintf("skipping revocation of record %s for team %s: folder %s is excluded",
						key.RecordUID, key.TeamUID, folderUID))
				continue
			}
			revocations[key.TeamUID] = append(revocations[key.TeamUID], Op{
				Type:      OpUnshareRecord,
				RecordUID: key.RecordUID,
				TeamUID:   key.TeamUID,
				FolderUID: folderUID,
			})
		}
		for teamUID := range revocations {
			ops := revocations[teamUID]
			sort.Slice(ops, func(i, j int) bool { return ops[i].RecordUID < ops[j].RecordUID })
		}
	}

	for _, team := range desired.Teams() {
		p.Teams = append(p.Teams, buildTeamPlan(p, team, desired, prior, excluded, revocations[team.UID]))
		delete(revocations, team.UID)
	}

	// Teams whose every cell went blank still need their revocations.
	var leftover []perms.EntityUID
	for teamUID := range revocations {
		leftover = append(leftover, teamUID)
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i] < leftover[j] })
	for _, teamUID := range leftover {
		p.Teams = append(p.Teams, TeamPlan{
			Team: perms.Team{UID: teamUID, Name: names[teamUID]},
			Ops:  revocations[teamUID],
		})
	}

	return p
}

// buildTeamPlan assembles one team's sequence: shared folder, mirrored
// paths, shares, the folder-level permission, then revocations.
func buildTeamPlan(p *Plan, team perms.Team, desired *manifest.DesiredState, prior *checkpoint.Snapshot, excluded map[perms.EntityUID]bool, revocations []Op) TeamPlan {
	tp := TeamPlan{Team: team}
	teamKey := TeamKey(team.UID)

	tp.Ops = append(tp.Ops, Op{
		Type:      OpEnsureTeamFolder,
		FolderKey: teamKey,
		ParentKey: RootKey,
		Name:      team.Name,
		Shared:    true,
		TeamUID:   team.UID,
	})

	planned := map[string]bool{teamKey: true}
	var caps perms.Capabilities
	granted := false

	for _, grant := range desired.GrantsForTeam(team.UID) {
		deepest := teamKey
		for i := range grant.Record.FolderPath {
			key := pathKey(team.UID, grant.Record.FolderPath[:i+1])
			if !planned[key] {
				planned[key] = true
				tp.Ops = append(tp.Ops, Op{
					Type:      OpEnsurePathFolder,
					FolderKey: key,
					ParentKey: deepest,
					Name:      grant.Record.FolderPath[i],
					RecordUID: grant.Record.UID,
					TeamUID:   team.UID,
				})
			}
			deepest = key
		}

		if prior != nil {
			if uid, ok := prior.FolderUID(deepest); ok && excluded[uid] {
				p.Warnings = append(p.Warnings,
					fmt.Sprintf("skipping record %s for team %s: folder %s is excluded",
						grant.Record.UID, team.UID, uid))
				continue
			}
		}

		tp.Ops = append(tp.Ops, Op{
			Type:      OpShareRecord,
			FolderKey: deepest,
			RecordUID: grant.Record.UID,
			TeamUID:   team.UID,
		})
		caps = caps.Union(grant.Level.Capabilities())
		granted = true
	}

	// The folder-level tuple is the componentwise maximum over the team's
	// grants: Keeper applies capabilities at folder granularity.
	if granted {
		tp.Ops = append(tp.Ops, Op{
			Type:         OpApplyTeamPermission,
			FolderKey:    teamKey,
			TeamUID:      team.UID,
			Capabilities: caps,
		})
	}

	tp.Ops = append(tp.Ops, revocations...)
	return tp
}
