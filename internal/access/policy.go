package access

import (
	"fmt"

	"github.com/fieldops/field-manager/models"
)

// defaultPolicy treats only the admin role as admin
var defaultPolicy = NewPolicy()

// Policy holds the admin-equivalence table. Membership is explicit:
// super_admin is not admin unless it is listed.
type Policy struct {
	adminRoles map[models.Role]struct{}
}

// NewPolicy creates a Policy whose admin-equivalent roles are adminEquivalents.
// With no arguments only models.RoleAdmin is admin. Invalid roles are ignored.
func NewPolicy(adminEquivalents ...models.Role) *Policy {
	if len(adminEquivalents) == 0 {
		adminEquivalents = []models.Role{models.RoleAdmin}
	}
	p := &Policy{adminRoles: make(map[models.Role]struct{}, len(adminEquivalents))}
	for _, r := range adminEquivalents {
		if r.Valid() {
			p.adminRoles[r] = struct{}{}
		}
	}
	return p
}

// ParsePolicy builds a Policy from role names, rejecting unknown names
func ParsePolicy(adminEquivalents []string) (*Policy, error) {
	roles, err := models.ParseRoles(adminEquivalents)
	if err != nil {
		return nil, fmt.Errorf("admin equivalents: %w", err)
	}
	return NewPolicy(roles...), nil
}

// DefaultPolicy returns the literal policy where only admin is admin
func DefaultPolicy() *Policy {
	return defaultPolicy
}

// IsAdmin reports whether candidate is listed in the admin-equivalence table
func (p *Policy) IsAdmin(candidate models.Role) bool {
	if p == nil || !candidate.Valid() {
		return false
	}
	_, ok := p.adminRoles[candidate]
	return ok
}

// AdminRoles returns the admin-equivalent roles in privilege order
func (p *Policy) AdminRoles() []models.Role {
	var out []models.Role
	for _, r := range models.AllRoles() {
		if _, ok := p.adminRoles[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Satisfies evaluates a full Requirement against candidate.
// Admin is checked first, then the single role, then the role set.
// An empty Requirement is satisfied by anyone, including an absent role.
func (p *Policy) Satisfies(candidate models.Role, req Requirement) bool {
	if req.RequireAdmin && !p.IsAdmin(candidate) {
		return false
	}
	if req.Role != models.RoleNone {
		return HasRole(candidate, req.Role)
	}
	if len(req.Roles) > 0 {
		return HasAnyRole(candidate, req.Roles)
	}
	return true
}
