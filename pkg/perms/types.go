package perms

import (
	"fmt"
	"strings"
)

// EntityUID is an opaque validated identifier for records, teams, and
// folders. Two UIDs are equal iff their strings are equal.
type EntityUID string

// InvalidUIDError reports an identifier that failed validation.
type InvalidUIDError struct {
	Value  string
	Reason string
}

func (e *InvalidUIDError) Error() string {
	return fmt.Sprintf("invalid uid %q: %s", e.Value, e.Reason)
}

// uidAllowed reports whether r may appear in an EntityUID. Keeper UIDs are
// URL-safe base64; underscores and hyphens are part of that alphabet.
func uidAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// ParseUID validates and returns an EntityUID.
func ParseUID(s string) (EntityUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &InvalidUIDError{Value: s, Reason: "empty"}
	}
	for _, r := range s {
		if !uidAllowed(r) {
			return "", &InvalidUIDError{Value: s, Reason: fmt.Sprintf("character %q not allowed", r)}
		}
	}
	return EntityUID(s), nil
}

// String implements fmt.Stringer.
func (u EntityUID) String() string { return string(u) }

// Team is a vault team. Name is used only for folder display labels;
// identity is always the UID.
type Team struct {
	UID  EntityUID
	Name string
}

// Record is a vault record together with its organizational folder path.
// FolderPath is the path from the CSV, independent of any team.
type Record struct {
	UID        EntityUID
	Title      string
	FolderPath []string
}

// PathKey returns the record's folder path joined with the canonical
// separator, for use as a logical map key.
func (r Record) PathKey() string {
	return strings.Join(r.FolderPath, "/")
}

// Grant is the atomic fact of the desired state: this team holds this level
// on this record. Grants are unique by (Record.UID, Team.UID) within a run.
type Grant struct {
	Record Record
	Team   Team
	Level  Level
}

// GrantKey identifies a grant (and a completed share) within a run.
type GrantKey struct {
	RecordUID EntityUID
	TeamUID   EntityUID
}

// Key returns the grant's identity pair.
func (g Grant) Key() GrantKey {
	return GrantKey{RecordUID: g.Record.UID, TeamUID: g.Team.UID}
}
