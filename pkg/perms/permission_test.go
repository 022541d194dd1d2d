package perms

import (
	"errors"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		token string
		want  Level
	}{
		{"ro", ReadOnly},
		{"rw", ReadWrite},
		{"rws", ReadWriteShare},
		{"mgr", ManageRecords},
		{"admin", Admin},
		{"RO", ReadOnly},
		{"Admin", Admin},
		{" rws ", ReadWriteShare},
		{"", NoAccess},
		{"   ", NoAccess},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.token)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, token := range []string{"read", "yes", "rwx", "administrator", "r o"} {
		_, err := ParseLevel(token)
		if err == nil {
			t.Errorf("ParseLevel(%q) should fail", token)
			continue
		}
		var tokErr *InvalidTokenError
		if !errors.As(err, &tokErr) {
			t.Errorf("ParseLevel(%q) error = %T, want *InvalidTokenError", token, err)
		}
	}
}

func TestLevelCapabilities(t *testing.T) {
	tests := []struct {
		level Level
		want  Capabilities
	}{
		{ReadOnly, Capabilities{}},
		{ReadWrite, Capabilities{CanEdit: true}},
		{ReadWriteShare, Capabilities{CanEdit: true, CanShare: true}},
		{ManageRecords, Capabilities{CanEdit: true, CanShare: true, ManageRecords: true}},
		{Admin, Capabilities{CanEdit: true, CanShare: true, ManageRecords: true, ManageUsers: true}},
	}
	for _, tt := range tests {
		if got := tt.level.Capabilities(); got != tt.want {
			t.Errorf("%v.Capabilities() = %+v, want %+v", tt.level, got, tt.want)
		}
	}
}

// Each level's tuple must be a superset of the previous level's.
func TestLevelMonotonicity(t *testing.T) {
	levels := []Level{ReadOnly, ReadWrite, ReadWriteShare, ManageRecords, Admin}
	for i := 1; i < len(levels); i++ {
		lower := levels[i-1].Capabilities()
		higher := levels[i].Capabilities()
		if higher.Union(lower) != higher {
			t.Errorf("%v capabilities do not contain %v capabilities", levels[i], levels[i-1])
		}
	}
}

func TestGrants(t *testing.T) {
	if NoAccess.Grants() {
		t.Error("NoAccess.Grants() should be false")
	}
	if !ReadOnly.Grants() {
		t.Error("ReadOnly.Grants() should be true: blank and ro are distinct states")
	}
}

func TestUnion(t *testing.T) {
	got := ReadWrite.Capabilities().Union(ReadWriteShare.Capabilities())
	want := Capabilities{CanEdit: true, CanShare: true}
	if got != want {
		t.Errorf("Union = %+v, want %+v", got, want)
	}
	// Union never clears a flag.
	all := Admin.Capabilities()
	if all.Union(Capabilities{}) != all {
		t.Error("Union with zero tuple must not clear flags")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	for _, level := range []Level{ReadOnly, ReadWrite, ReadWriteShare, ManageRecords, Admin} {
		parsed, err := ParseLevel(level.Token())
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", level.Token(), err)
		}
		if parsed != level {
			t.Errorf("round trip of %v gave %v", level, parsed)
		}
	}
}
