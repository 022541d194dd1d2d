// Package manifest handles the permissions CSV: structural and semantic
// validation, desired-state construction, template generation, and the
// failed-rows artifact. Nothing in this package talks to the backend; it is
// pure data work that runs before any mutation.
package manifest

import (
	"strings"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// Fixed column names. Everything else in the header is a team column.
const (
	ColumnRecordUID  = "record_uid"
	ColumnTitle      = "title"
	ColumnFolderPath = "folder_path"
)

// PathSeparator splits folder_path cells into segments.
const PathSeparator = "/"

// normalize is the comparison form for headers and team names:
// whitespace-trimmed and lowercased.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// teamColumn is a header cell resolved against the backend team directory.
type teamColumn struct {
	index int
	name  string      // trimmed display name from the header
	team  *perms.Team // nil when the name is unknown to the backend
}

// header is the parsed first CSV row.
type header struct {
	recordUID  int
	title      int
	folderPath int
	teams      []teamColumn
	blanks     []int // 0-based indices of blank header cells
}

// parseHeader resolves the fixed columns and maps the remaining columns to
// teams by normalized name. missing lists required columns that are absent.
func parseHeader(row []string, teams []perms.Team) (header, []string) {
	h := header{recordUID: -1, title: -1, folderPath: -1}

	byName := make(map[string]perms.Team, len(teams))
	for _, team := range teams {
		byName[normalize(team.Name)] = team
	}

	for i, cell := range row {
		switch normalize(cell) {
		case ColumnRecordUID:
			h.recordUID = i
		case ColumnTitle:
			h.title = i
		case ColumnFolderPath:
			h.folderPath = i
		case "":
			h.blanks = append(h.blanks, i)
		default:
			col := teamColumn{index: i, name: strings.TrimSpace(cell)}
			if team, ok := byName[normalize(cell)]; ok {
				t := team
				col.team = &t
			}
			h.teams = append(h.teams, col)
		}
	}

	var missing []string
	if h.recordUID < 0 {
		missing = append(missing, ColumnRecordUID)
	}
	if h.title < 0 {
		missing = append(missing, ColumnTitle)
	}
	if h.folderPath < 0 {
		missing = append(missing, ColumnFolderPath)
	}
	return h, missing
}

// cell returns the trimmed cell at index i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// splitFolderPath splits a folder_path cell into segments. Leading and
// trailing separators are tolerated; an empty interior segment (a literal
// "//") means the segmentation is ambiguous and ok is false.
func splitFolderPath(raw string) (segments []string, ok bool) {
	trimmed := strings.Trim(strings.TrimSpace(raw), PathSeparator)
	if trimmed == "" {
		return nil, false
	}
	parts := strings.Split(trimmed, PathSeparator)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		segments = append(segments, part)
	}
	return segments, true
}
