// Package gate decides whether a page fragment is included in output.
// It has no knowledge of navigation.
package gate

import (
	"bytes"
	"html/template"
	"io"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/models"
)

// Fragment writes a piece of a page
type Fragment func(w io.Writer) error

// Nothing is the default fallback: it writes no output
var Nothing Fragment = func(io.Writer) error { return nil }

// Text returns a Fragment that writes s verbatim
func Text(s string) Fragment {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

// Gate is a render requirement. The zero value admits everyone.
type Gate struct {
	Role     models.Role
	Roles    []models.Role
	Fallback Fragment
}

// Allows reports whether role may see the gated fragment.
// A single Role takes precedence; an empty Roles list counts as not given.
func (g Gate) Allows(role models.Role) bool {
	switch {
	case g.Role != models.RoleNone:
		return access.HasRole(role, g.Role)
	case len(g.Roles) > 0:
		return access.HasAnyRole(role, g.Roles)
	default:
		return true
	}
}

// Render writes children when role is allowed, otherwise the fallback
func (g Gate) Render(w io.Writer, role models.Role, children Fragment) error {
	out := children
	if !g.Allows(role) {
		out = g.Fallback
	}
	if out == nil {
		return nil
	}
	return out(w)
}

// FuncMap exposes the access predicates to html/template:
//
//	{{if hasRole .Role "admin"}}...{{end}}
//	{{if hasAnyRole .Role "field_manager" "admin"}}...{{end}}
//	{{if isAdmin .Role}}...{{end}}
//	{{if gate .Role}}open to everyone{{end}}
//	{{if gate .Role "team_leader" "field_manager"}}...{{end}}
//
// Role names that do not parse never match. gate with no names is open,
// like a Gate with no requirement.
func FuncMap(policy *access.Policy) template.FuncMap {
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	return template.FuncMap{
		"hasRole": func(candidate models.Role, required string) bool {
			r, ok := models.ParseRole(required)
			return ok && access.HasRole(candidate, r)
		},
		"hasAnyRole": func(candidate models.Role, required ...string) bool {
			roles := parseKnown(required)
			return access.HasAnyRole(candidate, roles)
		},
		"isAdmin": func(candidate models.Role) bool {
			return policy.IsAdmin(candidate)
		},
		"gate": func(candidate models.Role, names ...string) bool {
			g, ok := Named(names...)
			return ok && g.Allows(candidate)
		},
	}
}

// Named builds a Gate from role names. One name sets Role, several set Roles,
// none gives the open Gate. ok is false when names were given and none parse,
// since such a gate could admit nobody.
func Named(names ...string) (g Gate, ok bool) {
	if len(names) == 0 {
		return Gate{}, true
	}
	roles := parseKnown(names)
	switch len(roles) {
	case 0:
		return Gate{}, false
	case 1:
		return Gate{Role: roles[0]}, true
	default:
		return Gate{Roles: roles}, true
	}
}

// Section renders the template name when g allows role and the template
// fallback otherwise. An empty fallback keeps g.Fallback.
func Section(t *template.Template, g Gate, role models.Role, name, fallback string, data interface{}) (template.HTML, error) {
	if fallback != "" {
		g.Fallback = RenderTemplate(t, fallback, data)
	}
	var buf bytes.Buffer
	if err := g.Render(&buf, role, RenderTemplate(t, name, data)); err != nil {
		return "", err
	}
	// output of an html/template execution is already escaped
	return template.HTML(buf.String()), nil
}

// RenderTemplate executes a named template into a Fragment
func RenderTemplate(t *template.Template, name string, data interface{}) Fragment {
	return func(w io.Writer) error {
		var buf bytes.Buffer
		if err := t.ExecuteTemplate(&buf, name, data); err != nil {
			return err
		}
		_, err := buf.WriteTo(w)
		return err
	}
}

func parseKnown(names []string) []models.Role {
	roles := make([]models.Role, 0, len(names))
	for _, n := range names {
		if r, ok := models.ParseRole(n); ok {
			roles = append(roles, r)
		}
	}
	return roles
}
