package access

import "github.com/fieldops/field-manager/models"

// HasRole reports whether candidate is a known role equal to required.
// An absent candidate (models.RoleNone) is never a match.
func HasRole(candidate, required models.Role) bool {
	if !candidate.Valid() {
		return false
	}
	return candidate == required
}

// HasAnyRole reports whether candidate is a known role listed in required.
// An empty required set matches nobody.
func HasAnyRole(candidate models.Role, required []models.Role) bool {
	if !candidate.Valid() {
		return false
	}
	for _, r := range required {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsAdmin reports whether candidate is the admin role under the default policy
func IsAdmin(candidate models.Role) bool {
	return defaultPolicy.IsAdmin(candidate)
}

// Requirement describes what a caller must hold to be granted access.
// The zero value has no requirement.
type Requirement struct {
	Role         models.Role   `yaml:"role,omitempty" json:"role,omitempty"`
	Roles        []models.Role `yaml:"roles,omitempty" json:"roles,omitempty"`
	RequireAdmin bool          `yaml:"require_admin,omitempty" json:"require_admin,omitempty"`
}

// Empty reports whether no requirement was given
func (r Requirement) Empty() bool {
	return r.Role == models.RoleNone && len(r.Roles) == 0 && !r.RequireAdmin
}
