package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is a privilege level assigned to a platform member.
// The set of roles is closed: any value outside it grants nothing.
type Role string

const (
	// RoleNone is the absent role (no session, no user, or an unknown value)
	RoleNone Role = ""

	RoleGuest        Role = "guest"
	RolePlayer       Role = "player"
	RoleTeamLeader   Role = "team_leader"
	RoleFieldManager Role = "field_manager"
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
)

// allRoles lists the enumeration in privilege order
var allRoles = []Role{
	RoleGuest,
	RolePlayer,
	RoleTeamLeader,
	RoleFieldManager,
	RoleAdmin,
	RoleSuperAdmin,
}

// AllRoles returns every known role, least privileged first
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole converts a role name to a Role.
// Hyphenated spellings ("team-leader") and any letter case are accepted.
// Unknown or empty input returns RoleNone and false.
func ParseRole(s string) (Role, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for _, r := range allRoles {
		if string(r) == name {
			return r, true
		}
	}
	return RoleNone, false
}

// Valid reports whether r belongs to the role enumeration
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// String returns the canonical role name
func (r Role) String() string {
	return string(r)
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are rejected.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer
func (r Role) Value() (driver.Value, error) {
	return string(r), nil
}

// Scan implements sql.Scanner. Unknown stored values scan to RoleNone
// so a corrupted row can never grant access.
func (r *Role) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = RoleNone
	case string:
		*r, _ = ParseRole(v)
	case []byte:
		*r, _ = ParseRole(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
	return nil
}

// ParseRoles parses a list of role names, failing on the first unknown one
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		r, ok := ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, r)
	}
	return roles, nil
}
