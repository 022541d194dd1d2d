package manifest

import (
	"strings"
	"testing"

	"github.com/msawczynk/keeper-perms-automation/pkg/perms"
)

func testTeams() []perms.Team {
	return []perms.Team{
		{UID: "T-ENG", Name: "Engineering"},
		{UID: "T-OPS", Name: "Ops"},
	}
}

func hasIssue(issues []Issue, row int, column, fragment string) bool {
	for _, issue := range issues {
		if issue.Row == row && issue.Column == column && strings.Contains(issue.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidateCleanCSV(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering", "Ops"},
		{"R1", "db password", "Eng/Prod", "rw", "ro"},
		{"R2", "api key", "Eng", "", "admin"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !report.IsValid() {
		t.Fatalf("expected valid report, got errors: %v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}
	if report.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", report.RowCount)
	}
}

func TestValidateEmptyCSV(t *testing.T) {
	report := Validate(nil, testTeams(), ValidateOptions{})
	if report.IsValid() {
		t.Fatal("empty CSV must be invalid")
	}
	if !hasIssue(report.Errors, 0, "", "missing header") {
		t.Errorf("missing-header error not found: %v", report.Errors)
	}
}

func TestValidateMissingRequiredColumns(t *testing.T) {
	rows := [][]string{
		{"record_uid", "Engineering"},
		{"R1", "rw"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if report.IsValid() {
		t.Fatal("missing required columns must be invalid")
	}
	if !hasIssue(report.Errors, 1, ColumnTitle, "required column is missing") {
		t.Errorf("missing title error not found: %v", report.Errors)
	}
	if !hasIssue(report.Errors, 1, ColumnFolderPath, "required column is missing") {
		t.Errorf("missing folder_path error not found: %v", report.Errors)
	}
	// Nothing else can be checked, so row-level findings are suppressed.
	if report.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0 after header abort", report.RowCount)
	}
}

func TestValidateUnknownTeam(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Marketing"},
		{"R1", "doc", "Shared", "ro"},
	}

	report := Validate(rows, testTeams(), ValidateOptions{})
	if !report.IsValid() {
		t.Fatalf("unknown team should only warn by default: %v", report.Errors)
	}
	if !hasIssue(report.Warnings, 1, "Marketing", "unknown team") {
		t.Errorf("unknown-team warning not found: %v", report.Warnings)
	}

	strict := Validate(rows, testTeams(), ValidateOptions{Strict: true})
	if strict.IsValid() {
		t.Fatal("strict mode must upgrade unknown teams to errors")
	}
	if !hasIssue(strict.Errors, 1, "Marketing", "unknown team") {
		t.Errorf("unknown-team error not found: %v", strict.Errors)
	}
}

func TestValidateNoTeamColumns(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path"},
		{"R1", "doc", "Shared"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !report.IsValid() {
		t.Fatalf("expected valid: %v", report.Errors)
	}
	if !hasIssue(report.Warnings, 1, "", "no team columns") {
		t.Errorf("no-team-columns warning not found: %v", report.Warnings)
	}
}

func TestValidateBlankHeaderCell(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "", "Engineering"},
		{"R1", "doc", "Shared", "ignored", "ro"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !report.IsValid() {
		t.Fatalf("blank header cell should only warn: %v", report.Errors)
	}
	if !hasIssue(report.Warnings, 1, "", "header cell 4 is blank") {
		t.Errorf("blank-header warning not found: %v", report.Warnings)
	}
}

func TestValidateRaggedRow(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "doc", "Shared"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if report.IsValid() {
		t.Fatal("ragged row must be invalid")
	}
	if !hasIssue(report.Errors, 2, "", "row has 3 fields, header has 4") {
		t.Errorf("ragged-row error not found: %v", report.Errors)
	}
}

func TestValidateRecordUID(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"", "blank uid", "Shared", "ro"},
		{"bad uid", "spaced uid", "Shared", "ro"},
		{"R1", "first", "Shared", "ro"},
		{"R1", "dup", "Shared", "rw"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if report.IsValid() {
		t.Fatal("expected errors")
	}
	if !hasIssue(report.Errors, 2, ColumnRecordUID, "record_uid is blank") {
		t.Errorf("blank uid error not found: %v", report.Errors)
	}
	if !hasIssue(report.Errors, 3, ColumnRecordUID, "invalid uid") {
		t.Errorf("invalid uid error not found: %v", report.Errors)
	}
	if !hasIssue(report.Errors, 5, ColumnRecordUID, "first seen at row 4") {
		t.Errorf("duplicate uid error not found: %v", report.Errors)
	}
}

func TestValidateBlankTitleWarns(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "", "Shared", "ro"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !report.IsValid() {
		t.Fatalf("blank title should only warn: %v", report.Errors)
	}
	if !hasIssue(report.Warnings, 2, ColumnTitle, "title is blank") {
		t.Errorf("blank-title warning not found: %v", report.Warnings)
	}
}

func TestValidateFolderPath(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "a", "", "ro"},
		{"R2", "b", "Eng//Prod", "ro"},
		{"R3", "c", "/Eng/Prod/", "ro"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !hasIssue(report.Errors, 2, ColumnFolderPath, "folder_path is blank") {
		t.Errorf("blank path error not found: %v", report.Errors)
	}
	if !hasIssue(report.Errors, 3, ColumnFolderPath, "empty segment") {
		t.Errorf("empty-segment error not found: %v", report.Errors)
	}
	// Leading and trailing separators are tolerated.
	for _, issue := range report.Errors {
		if issue.Row == 4 {
			t.Errorf("row 4 should be clean, got %v", issue)
		}
	}
}

func TestValidatePermissionTokens(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering", "Ops"},
		{"R1", "a", "Shared", "RW", " admin "},
		{"R2", "b", "Shared", "read", "ro"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{})
	if !hasIssue(report.Errors, 3, "Engineering", "invalid permission token") {
		t.Errorf("bad token error not found: %v", report.Errors)
	}
	for _, issue := range report.Errors {
		if issue.Row == 2 {
			t.Errorf("case and whitespace variants should be accepted, got %v", issue)
		}
	}
}

func TestValidateMaxRecords(t *testing.T) {
	rows := [][]string{
		{"record_uid", "title", "folder_path", "Engineering"},
		{"R1", "a", "Shared", "ro"},
		{"R2", "b", "Shared", "ro"},
		{"R3", "c", "Shared", "ro"},
	}
	report := Validate(rows, testTeams(), ValidateOptions{MaxRecords: 2})
	if !report.IsValid() {
		t.Fatalf("over-limit CSV should only warn: %v", report.Errors)
	}
	if !hasIssue(report.Warnings, 0, "", "exceeding the configured limit of 2") {
		t.Errorf("limit warning not found: %v", report.Warnings)
	}
}

func TestIssueString(t *testing.T) {
	tests := []struct {
		issue Issue
		want  string
	}{
		{Issue{Row: 3, Column: "title", Message: "blank"}, `row 3, column "title": blank`},
		{Issue{Row: 3, Message: "ragged"}, "row 3: ragged"},
		{Issue{Message: "empty file"}, "empty file"},
	}
	for _, tt := range tests {
		if got := tt.issue.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
