package manifest

import (
	"fmt"
	"sort"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// DesiredState is the immutable grant set derived from a validated CSV.
// One Grant exists per (record, team) pair with a non-blank cell; blank
// cells emit nothing here. Revoking previously granted access that is now
// blank is the planner's job, using the prior run's checkpoint.
type DesiredState struct {
	grants  map[perms.GrantKey]perms.Grant
	ordered []perms.Grant
	records []perms.Record
	teams   []perms.Team
}

// BuildOptions filters the desired set during construction.
type BuildOptions struct {
	// IncludedTeams, when non-empty, limits grants to these team UIDs.
	// Empty means every team in the directory is considered.
	IncludedTeams []perms.EntityUID
}

// BuildDesired turns validated CSV rows into the desired-grant set.
// It must only be called with rows that passed Validate: malformed input
// here is a programming error and returns an error rather than a report.
func BuildDesired(rows [][]string, teams []perms.Team, opts BuildOptions) (*DesiredState, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows: validate the CSV first")
	}

	hdr, missing := parseHeader(rows[0], teams)
	if len(missing) > 0 {
		return nil, fmt.Errorf("required columns missing: %v", missing)
	}

	included := make(map[perms.EntityUID]bool, len(opts.IncludedTeams))
	for _, uid := range opts.IncludedTeams {
		included[uid] = true
	}
	teamAllowed := func(uid perms.EntityUID) bool {
		return len(included) == 0 || included[uid]
	}

	ds := &DesiredState{grants: make(map[perms.GrantKey]perms.Grant)}
	seenTeams := make(map[perms.EntityUID]bool)

	for i, row := range rows[1:] {
		line := i + 2

		uid, err := perms.ParseUID(cell(row, hdr.recordUID))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		segments, ok := splitFolderPath(cell(row, hdr.folderPath))
		if !ok {
			return nil, fmt.Errorf("row %d: invalid folder_path", line)
		}
		record := perms.Record{
			UID:        uid,
			Title:      cell(row, hdr.title),
			FolderPath: segments,
		}
		ds.records = append(ds.records, record)

		for _, col := range hdr.teams {
			if col.team == nil || !teamAllowed(col.team.UID) {
				continue
			}
			level, err := perms.ParseLevel(cell(row, col.index))
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", line, col.name, err)
			}
			if !level.Grants() {
				continue
			}
			grant := perms.Grant{Record: record, Team: *col.team, Level: level}
			key := grant.Key()
			if _, exists := ds.grants[key]; exists {
				return nil, fmt.Errorf("row %d: duplicate grant for record %s, team %s", line, key.RecordUID, key.TeamUID)
			}
			ds.grants[key] = grant
			ds.ordered = append(ds.ordered, grant)
			if !seenTeams[col.team.UID] {
				seenTeams[col.team.UID] = true
				ds.teams = append(ds.teams, *col.team)
			}
		}
	}

	sort.Slice(ds.teams, func(i, j int) bool { return ds.teams[i].UID < ds.teams[j].UID })
	return ds, nil
}

// Grants returns every desired grant in CSV order (row-major).
func (d *DesiredState) Grants() []perms.Grant {
	out := make([]perms.Grant, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Has reports whether the (record, team) pair has a desired grant.
func (d *DesiredState) Has(key perms.GrantKey) bool {
	_, ok := d.grants[key]
	return ok
}

// GrantsForTeam returns the team's desired grants in CSV order.
func (d *DesiredState) GrantsForTeam(teamUID perms.EntityUID) []perms.Grant {
	var out []perms.Grant
	for _, grant := range d.ordered {
		if grant.Team.UID == teamUID {
			out = append(out, grant)
		}
	}
	return out
}

// Teams returns the teams holding at least one desired grant, ordered by UID.
func (d *DesiredState) Teams() []perms.Team {
	out := make([]perms.Team, len(d.teams))
	copy(out, d.teams)
	return out
}

// Records returns every CSV record in row order, including records with no
// grants (their rows still get outcomes).
func (d *DesiredState) Records() []perms.Record {
	out := make([]perms.Record, len(d.records))
	copy(out, d.records)
	return out
}

// Len returns the number of desired grants.
func (d *DesiredState) Len() int {
	return len(d.grants)
}
