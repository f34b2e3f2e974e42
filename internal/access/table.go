package access

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/utils"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLoginPath is where unauthenticated navigation is sent
	DefaultLoginPath = "/login"
	// DefaultRedirect is where denied navigation is sent
	DefaultRedirect = "/"
)

// PolicyFile is the on-disk form of the access policy
type PolicyFile struct {
	AdminEquivalents []string    `yaml:"admin_equivalents" validate:"dive,role"`
	LoginPath        string      `yaml:"login_path" validate:"omitempty,localpath"`
	DefaultRedirect  string      `yaml:"default_redirect" validate:"omitempty,localpath"`
	Routes           []RouteRule `yaml:"routes" validate:"dive"`
}

// RouteRule is one entry of the routes list in the policy file
type RouteRule struct {
	Path         string   `yaml:"path" validate:"required,localpath"`
	RequireAdmin bool     `yaml:"require_admin"`
	Roles        []string `yaml:"roles" validate:"omitempty,dive,role"`
	RedirectTo   string   `yaml:"redirect_to" validate:"omitempty,localpath"`
}

// Rule is a compiled route rule
type Rule struct {
	Path        string
	Requirement Requirement
	RedirectTo  string
}

// Table maps request paths to access rules
type Table struct {
	Policy          *Policy
	LoginPath       string
	DefaultRedirect string
	// Warnings lists rules that parse but deserve attention, such as an
	// explicit empty roles list (which places no role requirement).
	Warnings []string

	rules []Rule // longest path first
}

// NewTable builds a Table from compiled rules
func NewTable(policy *Policy, loginPath, defaultRedirect string, rules ...Rule) *Table {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if defaultRedirect == "" {
		defaultRedirect = DefaultRedirect
	}
	t := &Table{
		Policy:          policy,
		LoginPath:       loginPath,
		DefaultRedirect: defaultRedirect,
		rules:           make([]Rule, 0, len(rules)),
	}
	for _, r := range rules {
		r.Path = normalizePath(r.Path)
		t.rules = append(t.rules, r)
	}
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Path) > len(t.rules[j].Path)
	})
	return t
}

// DefaultTable returns the built-in route table for the platform
func DefaultTable() *Table {
	return NewTable(DefaultPolicy(), DefaultLoginPath, DefaultRedirect,
		Rule{Path: "/admin", Requirement: Requirement{RequireAdmin: true}},
		Rule{Path: "/api/v1/users", Requirement: Requirement{RequireAdmin: true}},
		Rule{Path: "/field", Requirement: Requirement{Roles: []models.Role{
			models.RoleTeamLeader, models.RoleFieldManager, models.RoleAdmin, models.RoleSuperAdmin,
		}}, RedirectTo: "/dashboard"},
		Rule{Path: "/radio", Requirement: Requirement{Roles: []models.Role{
			models.RolePlayer, models.RoleTeamLeader, models.RoleFieldManager, models.RoleAdmin, models.RoleSuperAdmin,
		}}, RedirectTo: "/dashboard"},
		Rule{Path: "/dashboard"},
		Rule{Path: "/marketplace"},
	)
}

// LoadFile reads a policy file from disk. A missing file yields DefaultTable.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultTable(), nil
		}
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a policy document. Unknown keys are rejected.
func Parse(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	if err := utils.ValidateStruct(file); err != nil {
		return nil, err
	}

	return file.Compile()
}

// Compile turns a validated PolicyFile into a Table
func (f PolicyFile) Compile() (*Table, error) {
	policy := DefaultPolicy()
	if len(f.AdminEquivalents) > 0 {
		p, err := ParsePolicy(f.AdminEquivalents)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	var warnings []string
	rules := make([]Rule, 0, len(f.Routes))
	seen := make(map[string]bool, len(f.Routes))
	for _, rr := range f.Routes {
		path := normalizePath(rr.Path)
		if seen[path] {
			return nil, fmt.Errorf("duplicate route rule for %s", path)
		}
		seen[path] = true

		roles, err := models.ParseRoles(rr.Roles)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", path, err)
		}
		if rr.Roles != nil && len(rr.Roles) == 0 {
			warnings = append(warnings, fmt.Sprintf("route %s lists an empty roles set; it places no role requirement", path))
		}
		rules = append(rules, Rule{
			Path: path,
			Requirement: Requirement{
				Roles:        roles,
				RequireAdmin: rr.RequireAdmin,
			},
			RedirectTo: rr.RedirectTo,
		})
	}

	t := NewTable(policy, f.LoginPath, f.DefaultRedirect, rules...)
	t.Warnings = warnings
	return t, nil
}

// Match returns the rule with the longest path that is a segment prefix of path
func (t *Table) Match(path string) (Rule, bool) {
	path = normalizePath(path)
	for _, r := range t.rules {
		if r.Path == "/" || path == r.Path || strings.HasPrefix(path, r.Path+"/") {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns the compiled rules, longest path first
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
