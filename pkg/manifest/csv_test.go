package manifest

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

func TestReadCSVToleratesRaggedRows(t *testing.T) {
	input := "record_uid,title,folder_path,Engineering\nR1,doc,Shared\n"
	rows, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if len(rows[1]) != 3 {
		t.Errorf("ragged row should survive parsing, got %v", rows[1])
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path"},
		{"R1", "name, with comma", "Eng/Prod"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV error: %v", err)
	}
	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV error: %v", err)
	}
	if !reflect.DeepEqual(rows, back) {
		t.Errorf("round trip mismatch: %v", back)
	}
}

func TestTemplate(t *testing.T) {
	teams := testTeams()
	records := []perms.Record{
		{UID: "R1", Title: "db password", FolderPath: []string{"Eng", "Prod"}},
		{UID: "R2", Title: "api key", FolderPath: []string{"Eng"}},
	}

	rows := Template(teams, records)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	wantHeader := []string{"record_uid", "title", "folder_path", "Engineering", "Ops"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Errorf("header = %v, want %v", rows[0], wantHeader)
	}
	want := []string{"R1", "db password", "Eng/Prod", "", ""}
	if !reflect.DeepEqual(rows[1], want) {
		t.Errorf("row = %v, want %v", rows[1], want)
	}

	// A template must validate cleanly against the same team directory.
	report := Validate(rows, teams, ValidateOptions{})
	if !report.IsValid() {
		t.Errorf("template does not validate: %v", report.Errors)
	}
}

func TestFailedRows(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "ok", "Shared", "ro"},
		{"R2", "broken", "Shared", "rw"},
		{"R3", "untouched", "Shared", ""},
	}
	outcomes := map[perms.EntityUID]checkpoint.RowOutcome{
		"R1": {Success: true},
		"R2": {Success: false, Error: "share failed: timeout"},
	}

	failed := FailedRows(rows, outcomes)
	if len(failed) != 2 {
		t.Fatalf("got %d rows, want header plus one failure", len(failed))
	}
	wantHeader := []string{"record_uid", "title", "folder_path", "Engineering", "error"}
	if !reflect.DeepEqual(failed[0], wantHeader) {
		t.Errorf("header = %v, want %v", failed[0], wantHeader)
	}
	want := []string{"R2", "broken", "Shared", "rw", "share failed: timeout"}
	if !reflect.DeepEqual(failed[1], want) {
		t.Errorf("row = %v, want %v", failed[1], want)
	}
}

func TestFailedRowsAllSucceeded(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path"},
		{"R1", "ok", "Shared"},
	}
	outcomes := map[perms.EntityUID]checkpoint.RowOutcome{
		"R1": {Success: true},
	}
	if failed := FailedRows(rows, outcomes); failed != nil {
		t.Errorf("expected nil, got %v", failed)
	}
	if failed := FailedRows(nil, outcomes); failed != nil {
		t.Errorf("expected nil for empty input, got %v", failed)
	}
}
