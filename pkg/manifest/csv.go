package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

// ReadCSV parses the permissions CSV into raw rows, header first.
// FieldsPerRecord is left unenforced so the validator can report ragged
// rows with line numbers instead of failing on the first one.
func ReadCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return rows, nil
}

// WriteCSV writes raw rows.
func WriteCSV(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// Template builds the rows of a template CSV: the fixed header plus one
// column per team, and one row per record with blank permission cells for
// the operator to fill in.
func Template(teams []perms.Team, records []perms.Record) [][]string {
	headerRow := []string{ColumnRecordUID, ColumnTitle, ColumnFolderPath}
	for _, team := range teams {
		headerRow = append(headerRow, team.Name)
	}

	rows := [][]string{headerRow}
	for _, record := range records {
		row := []string{
			string(record.UID),
			record.Title,
			strings.Join(record.FolderPath, PathSeparator),
		}
		for range teams {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	return rows
}

// FailedRows extracts the rows whose record outcome is a failure, keeping
// the original header so the resulting file can be re-applied directly.
// An extra "error" column is appended with the recorded message.
func FailedRows(rows [][]string, outcomes map[perms.EntityUID]checkpoint.RowOutcome) [][]string {
	if len(rows) == 0 {
		return nil
	}
	hdr, missing := parseHeader(rows[0], nil)
	if len(missing) > 0 {
		return nil
	}

	out := [][]string{append(append([]string{}, rows[0]...), "error")}
	for _, row := range rows[1:] {
		uid := perms.EntityUID(cell(row, hdr.recordUID))
		outcome, ok := outcomes[uid]
		if !ok || outcome.Success {
			continue
		}
		out = append(out, append(append([]string{}, row...), outcome.Error))
	}
	if len(out) == 1 {
		return nil
	}
	return out
}
