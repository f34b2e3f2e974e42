// Package guard decides whether a navigation target may render.
//
// Evaluate is a pure state machine: it never performs the redirect itself,
// it returns a Decision that the HTTP layer acts on.
package guard

import (
	"time"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
)

// Outcome is the terminal state of one evaluation
type Outcome int

const (
	Render Outcome = iota
	Redirect
)

func (o Outcome) String() string {
	if o == Redirect {
		return "redirect"
	}
	return "render"
}

// Reason explains a Decision
type Reason string

const (
	ReasonAuthorized      Reason = "authorized"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonNotAdmin        Reason = "admin_required"
	ReasonRoleNotAllowed  Reason = "role_not_allowed"
)

// State travels with a redirect so the login flow can return the user
type State struct {
	From string `json:"from,omitempty"`
}

// Decision is the result of evaluating a navigation attempt
type Decision struct {
	Outcome Outcome
	Target  string
	State   State
	Reason  Reason
}

// Allowed reports whether the protected content renders
func (d Decision) Allowed() bool { return d.Outcome == Render }

// Config is the per-route requirement. Zero value allows any authenticated session.
type Config struct {
	RequireAdmin bool
	Roles        []models.Role
	RedirectTo   string
}

// ConfigFromRule converts a route table rule into a guard Config
func ConfigFromRule(r access.Rule) Config {
	roles := r.Requirement.Roles
	if r.Requirement.Role != models.RoleNone {
		roles = append([]models.Role{r.Requirement.Role}, roles...)
	}
	return Config{
		RequireAdmin: r.Requirement.RequireAdmin,
		Roles:        roles,
		RedirectTo:   r.RedirectTo,
	}
}

// Guard evaluates navigation attempts against a Policy
type Guard struct {
	policy          *access.Policy
	loginPath       string
	defaultRedirect string
	now             func() time.Time
}

// New creates a Guard. Empty paths fall back to the access package defaults.
func New(policy *access.Policy, loginPath, defaultRedirect string) *Guard {
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	if loginPath == "" {
		loginPath = access.DefaultLoginPath
	}
	if defaultRedirect == "" {
		defaultRedirect = access.DefaultRedirect
	}
	return &Guard{
		policy:          policy,
		loginPath:       loginPath,
		defaultRedirect: defaultRedirect,
		now:             time.Now,
	}
}

// FromTable creates a Guard using the table's policy and destinations
func FromTable(t *access.Table) *Guard {
	return New(t.Policy, t.LoginPath, t.DefaultRedirect)
}

// WithClock returns a copy of g that reads time from now
func (g *Guard) WithClock(now func() time.Time) *Guard {
	cp := *g
	cp.now = now
	return &cp
}

// LoginPath returns the login destination
func (g *Guard) LoginPath() string { return g.loginPath }

// Policy returns the admin-equivalence policy in use
func (g *Guard) Policy() *access.Policy { return g.policy }

// Evaluate runs the checks in fixed order: authentication first, then the
// admin requirement, then role-set membership.
func (g *Guard) Evaluate(s session.Session, location string, cfg Config) Decision {
	if !s.Active(g.now()) {
		return Decision{
			Outcome: Redirect,
			Target:  g.loginPath,
			State:   State{From: location},
			Reason:  ReasonUnauthenticated,
		}
	}

	role := s.Role()
	fallback := cfg.RedirectTo
	if fallback == "" {
		fallback = g.defaultRedirect
	}

	if cfg.RequireAdmin && !g.policy.IsAdmin(role) {
		return Decision{Outcome: Redirect, Target: fallback, Reason: ReasonNotAdmin}
	}
	if len(cfg.Roles) > 0 && !access.HasAnyRole(role, cfg.Roles) {
		return Decision{Outcome: Redirect, Target: fallback, Reason: ReasonRoleNotAllowed}
	}
	return Decision{Outcome: Render, Reason: ReasonAuthorized}
}
