package manifest

import (
	"fmt"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// Issue is a single validation finding, anchored to a CSV location.
// Row is the 1-based file line (the header is line 1); Column is the
// offending column name when one applies.
type Issue struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.Row > 0 && i.Column != "":
		return fmt.Sprintf("row %d, column %q: %s", i.Row, i.Column, i.Message)
	case i.Row > 0:
		return fmt.Sprintf("row %d: %s", i.Row, i.Message)
	case i.Column != "":
		return fmt.Sprintf("column %q: %s", i.Column, i.Message)
	default:
		return i.Message
	}
}

// Report collects every finding from a validation pass. Errors block the
// run; warnings never do.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	RowCount int     `json:"row_count"`
}

// IsValid reports whether the CSV may proceed to planning.
func (r *Report) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Report) addError(row int, column, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Row: row, Column: column, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarning(row int, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Row: row, Column: column, Message: fmt.Sprintf(format, args...)})
}

// ValidateOptions tunes the validation pass.
type ValidateOptions struct {
	// Strict upgrades unknown-team warnings to errors.
	Strict bool

	// MaxRecords, when positive, warns when the CSV has more data rows.
	// The apply command refuses such files without --force.
	MaxRecords int
}

// Validate checks the raw CSV rows (header first) against the schema and
// the backend team directory. All violations are collected rather than
// short-circuited; only a missing required column aborts early, since
// nothing else can be checked without the fixed columns.
//
// Validate performs no backend calls and must run before any mutation.
func Validate(rows [][]string, teams []perms.Team, opts ValidateOptions) *Report {
	report := &Report{}

	if len(rows) == 0 {
		report.addError(0, "", "CSV is empty: missing header row")
		return report
	}

	hdr, missing := parseHeader(rows[0], teams)
	for _, name := range missing {
		report.addError(1, name, "required column is missing")
	}
	if len(missing) > 0 {
		return report
	}

	if len(hdr.teams) == 0 {
		report.addWarning(1, "", "no team columns found; nothing can be granted")
	}
	for _, col := range hdr.teams {
		if col.team == nil {
			if opts.Strict {
				report.addError(1, col.name, "unknown team (not present in the backend team directory)")
			} else {
				report.addWarning(1, col.name, "unknown team; its column will be skipped")
			}
		}
	}
	for _, idx := range hdr.blanks {
		report.addWarning(1, "", "header cell %d is blank; the column is ignored", idx+1)
	}

	seen := make(map[perms.EntityUID]int) // record UID -> first line seen
	for i, row := range rows[1:] {
		line := i + 2
		report.RowCount++

		if len(row) != len(rows[0]) {
			report.addError(line, "", "row has %d fields, header has %d", len(row), len(rows[0]))
		}

		rawUID := cell(row, hdr.recordUID)
		if rawUID == "" {
			report.addError(line, ColumnRecordUID, "record_uid is blank")
		} else if uid, err := perms.ParseUID(rawUID); err != nil {
			report.addError(line, ColumnRecordUID, "%v", err)
		} else if firstLine, dup := seen[uid]; dup {
			report.addError(line, ColumnRecordUID, "duplicate record_uid %q (first seen at row %d)", rawUID, firstLine)
		} else {
			seen[uid] = line
		}

		if cell(row, hdr.title) == "" {
			report.addWarning(line, ColumnTitle, "title is blank")
		}

		rawPath := cell(row, hdr.folderPath)
		if rawPath == "" {
			report.addError(line, ColumnFolderPath, "folder_path is blank")
		} else if _, ok := splitFolderPath(rawPath); !ok {
			report.addError(line, ColumnFolderPath, "folder_path %q has an empty segment; segmentation is ambiguous", rawPath)
		}

		for _, col := range hdr.teams {
			if _, err := perms.ParseLevel(cell(row, col.index)); err != nil {
				report.addError(line, col.name, "%v", err)
			}
		}
	}

	if opts.MaxRecords > 0 && report.RowCount > opts.MaxRecords {
		report.addWarning(0, "", "CSV has %d rows, exceeding the configured limit of %d", report.RowCount, opts.MaxRecords)
	}

	return report
}
