package perms

import (
	"errors"
	"testing"
)

func TestParseUID(t *testing.T) {
	valid := []string{"abc", "ABC-123", "x_y-Z9", "  trimmed  "}
	for _, s := range valid {
		if _, err := ParseUID(s); err != nil {
			t.Errorf("ParseUID(%q) error: %v", s, err)
		}
	}

	invalid := []string{"", "   ", "with space", "slash/uid", "uid!", "émoji"}
	for _, s := range invalid {
		_, err := ParseUID(s)
		if err == nil {
			t.Errorf("ParseUID(%q) should fail", s)
			continue
		}
		var uidErr *InvalidUIDError
		if !errors.As(err, &uidErr) {
			t.Errorf("ParseUID(%q) error = %T, want *InvalidUIDError", s, err)
		}
	}
}

func TestParseUIDTrims(t *testing.T) {
	uid, err := ParseUID("  R-1  ")
	if err != nil {
		t.Fatalf("ParseUID error: %v", err)
	}
	if uid != "R-1" {
		t.Errorf("ParseUID = %q, want R-1", uid)
	}
}

func TestGrantKey(t *testing.T) {
	g := Grant{
		Record: Record{UID: "R1", Title: "db password"},
		Team:   Team{UID: "T1", Name: "Platform"},
		Level:  ReadWrite,
	}
	want := GrantKey{RecordUID: "R1", TeamUID: "T1"}
	if g.Key() != want {
		t.Errorf("Key() = %+v, want %+v", g.Key(), want)
	}
}

func TestRecordPathKey(t *testing.T) {
	r := Record{UID: "R1", FolderPath: []string{"Eng", "Prod"}}
	if r.PathKey() != "Eng/Prod" {
		t.Errorf("PathKey() = %q, want Eng/Prod", r.PathKey())
	}
	if (Record{UID: "R2"}).PathKey() != "" {
		t.Error("PathKey() of a root record should be empty")
	}
}
