package handlers

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/internal/gate"
	"github.com/fieldops/field-manager/internal/guard"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	"github.com/fieldops/field-manager/utils"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names, each a template defined under templates/
const (
	PageHome        = "home"
	PageLogin       = "login"
	PageDashboard   = "dashboard"
	PageMarketplace = "marketplace"
	PageRadio       = "radio"
	PageField       = "field"
	PageAdmin       = "admin"
)

var pageTitles = map[string]string{
	PageHome:        "Home",
	PageLogin:       "Log in",
	PageDashboard:   "Dashboard",
	PageMarketplace: "Marketplace",
	PageRadio:       "Radio",
	PageField:       "Field",
	PageAdmin:       "Administration",
}

// UserLister lists platform members for the admin page
type UserLister interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
}

// pageData is what every page template receives
type pageData struct {
	Title    string
	Session  session.Session
	Role     models.Role
	User     *session.SessionUser
	LoginURL string
	Users    []*models.User
	Roles    []models.Role
}

// PageHandler renders the server-side pages. Navigation is decided by the
// route guard before these handlers run; templates only hide fragments.
// Links to guarded pages are shown by asking the same guard about the link
// target, so the route table is the only place route access is configured.
type PageHandler struct {
	tmpl   *template.Template
	table  *access.Table
	guard  *guard.Guard
	users  UserLister
	logger *zap.Logger
}

// NewPageHandler parses the embedded templates with the render gate functions.
// g evaluates link targets against table; nil builds one from the table.
func NewPageHandler(table *access.Table, g *guard.Guard, users UserLister, logger *zap.Logger) (*PageHandler, error) {
	if g == nil {
		g = guard.FromTable(table)
	}
	h := &PageHandler{table: table, guard: g, users: users, logger: logger}

	funcs := gate.FuncMap(table.Policy)
	funcs["canVisit"] = h.canVisit
	funcs["section"] = h.section
	tmpl, err := template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	h.tmpl = tmpl
	return h, nil
}

// canVisit reports whether the route guard would render path for s.
// Paths no rule matches are not guarded.
func (h *PageHandler) canVisit(s session.Session, path string) bool {
	rule, ok := h.table.Match(path)
	if !ok {
		return true
	}
	return h.guard.Evaluate(s, path, guard.ConfigFromRule(rule)).Allowed()
}

// section renders template name for the listed roles and fallback for
// everyone else:
//
//	{{section .Role "games-panel" "games-locked" . "field_manager" "admin"}}
func (h *PageHandler) section(role models.Role, name, fallback string, data interface{}, roles ...string) (template.HTML, error) {
	g, ok := gate.Named(roles...)
	if !ok {
		// no listed role parses, so nobody sees name
		if fallback == "" {
			return "", nil
		}
		name = fallback
	}
	return gate.Section(h.tmpl, g, role, name, fallback, data)
}

func (h *PageHandler) data(r *http.Request, name string) pageData {
	s := middleware.SessionFromContext(r.Context())
	d := pageData{
		Title:   pageTitles[name],
		Session: s,
		Role:    s.Role(),
		User:    s.User,
	}
	if !s.Authenticated {
		d.User = nil
	}
	return d
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, name string, d pageData) {
	var buf bytes.Buffer
	if err := gate.RenderTemplate(h.tmpl, name, d)(&buf); err != nil {
		h.logger.Error("failed to render page",
			zap.String("page", name),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to render page")
		return
	}
	_ = utils.WriteHTML(w, http.StatusOK, func(w http.ResponseWriter) error {
		_, err := buf.WriteTo(w)
		return err
	})
}

// Page returns a handler rendering the named page
func (h *PageHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, name, h.data(r, name))
	}
}

// HandleLogin renders the login landing page. The from parameter set by the
// route guard is forwarded to the OAuth flow when it is a local path.
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	d := h.data(r, PageLogin)
	d.LoginURL = "/auth/login"
	if from := r.URL.Query().Get(middleware.FromParam); utils.IsLocalPath(from) {
		d.LoginURL += "?" + url.Values{middleware.FromParam: {from}}.Encode()
	}
	h.render(w, r, PageLogin, d)
}

// HandleAdmin renders the user administration page
func (h *PageHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	d := h.data(r, PageAdmin)
	d.Roles = models.AllRoles()
	if h.users != nil {
		users, err := h.users.ListUsers(r.Context(), 0, 0)
		if err != nil {
			h.logger.Error("failed to list users for admin page", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "Failed to load users")
			return
		}
		d.Users = users
	}
	h.render(w, r, PageAdmin, d)
}
