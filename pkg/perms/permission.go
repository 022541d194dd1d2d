// Package perms defines the permission vocabulary and core domain types for
// the provisioning engine: permission levels, capability tuples, entity
// identifiers, teams, records, and grants.
package perms

import (
	"fmt"
	"strings"
)

// Level is a permission level assigned to a team for a record.
//
// The zero value is NoAccess, which is not a member of the vocabulary but the
// distinct state of a blank CSV cell: it means "no grant" (and, when a grant
// existed before, "revoke it"), not "a grant with every capability off".
type Level int

const (
	// NoAccess is the blank-cell state. It carries no capability tuple.
	NoAccess Level = iota

	// ReadOnly grants folder access with no write capability (token "ro").
	ReadOnly

	// ReadWrite adds record editing (token "rw").
	ReadWrite

	// ReadWriteShare adds re-sharing (token "rws").
	ReadWriteShare

	// ManageRecords adds record management on the folder (token "mgr").
	ManageRecords

	// Admin adds user management; the full tuple (token "admin").
	Admin
)

// Capabilities is the four-flag tuple Keeper applies at folder granularity.
type Capabilities struct {
	CanEdit       bool `json:"can_edit"`
	CanShare      bool `json:"can_share"`
	ManageRecords bool `json:"manage_records"`
	ManageUsers   bool `json:"manage_users"`
}

// Union returns the componentwise OR of two capability tuples.
func (c Capabilities) Union(other Capabilities) Capabilities {
	return Capabilities{
		CanEdit:       c.CanEdit || other.CanEdit,
		CanShare:      c.CanShare || other.CanShare,
		ManageRecords: c.ManageRecords || other.ManageRecords,
		ManageUsers:   c.ManageUsers || other.ManageUsers,
	}
}

// levelCaps maps each vocabulary level to its tuple. Levels are monotonic:
// each row is a superset of the one above it.
var levelCaps = map[Level]Capabilities{
	ReadOnly:       {},
	ReadWrite:      {CanEdit: true},
	ReadWriteShare: {CanEdit: true, CanShare: true},
	ManageRecords:  {CanEdit: true, CanShare: true, ManageRecords: true},
	Admin:          {CanEdit: true, CanShare: true, ManageRecords: true, ManageUsers: true},
}

var levelTokens = map[Level]string{
	NoAccess:       "",
	ReadOnly:       "ro",
	ReadWrite:      "rw",
	ReadWriteShare: "rws",
	ManageRecords:  "mgr",
	Admin:          "admin",
}

var tokenLevels = map[string]Level{
	"ro":    ReadOnly,
	"rw":    ReadWrite,
	"rws":   ReadWriteShare,
	"mgr":   ManageRecords,
	"admin": Admin,
}

// Grants reports whether the level represents an actual grant.
func (l Level) Grants() bool {
	return l != NoAccess
}

// Capabilities returns the capability tuple for the level.
// NoAccess has no tuple; it returns the zero value, which callers must not
// confuse with ReadOnly (check Grants first).
func (l Level) Capabilities() Capabilities {
	return levelCaps[l]
}

// Token returns the CSV token for the level ("" for NoAccess).
func (l Level) Token() string {
	return levelTokens[l]
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if l == NoAccess {
		return "none"
	}
	if tok, ok := levelTokens[l]; ok {
		return tok
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// InvalidTokenError reports a permission cell that is not in the vocabulary.
type InvalidTokenError struct {
	Token string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid permission token %q (expected one of ro, rw, rws, mgr, admin, or blank)", e.Token)
}

// ParseLevel parses a CSV permission cell. Comparison is case-insensitive
// with surrounding whitespace trimmed. An empty or whitespace-only cell
// parses to NoAccess, not an error.
func ParseLevel(token string) (Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if normalized == "" {
		return NoAccess, nil
	}
	level, ok := tokenLevels[normalized]
	if !ok {
		return NoAccess, &InvalidTokenError{Token: strings.TrimSpace(token)}
	}
	return level, nil
}
