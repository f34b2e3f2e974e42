package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/internal/guard"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/utils"
	"go.uber.org/zap"
)

// FromParam is the query parameter carrying the originally requested location
const FromParam = "from"

// AccessRecorder receives access events for the audit trail
type AccessRecorder interface {
	RecordAccess(event *models.AccessEvent) error
}

// RouteGuard performs the navigation side effect of guard decisions
type RouteGuard struct {
	guard    *guard.Guard
	table    *access.Table
	recorder AccessRecorder
	logger   *zap.Logger
}

// NewRouteGuard creates a new RouteGuard. table and recorder may be nil.
func NewRouteGuard(g *guard.Guard, table *access.Table, recorder AccessRecorder, logger *zap.Logger) *RouteGuard {
	return &RouteGuard{
		guard:    g,
		table:    table,
		recorder: recorder,
		logger:   logger,
	}
}

// Protect guards a route with an explicit requirement
func (m *RouteGuard) Protect(cfg guard.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.enforce(w, r, next, cfg)
		})
	}
}

// ProtectTable guards every request with the longest matching rule of the
// route table. Paths no rule matches pass through unguarded.
func (m *RouteGuard) ProtectTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.table == nil {
			next.ServeHTTP(w, r)
			return
		}
		rule, ok := m.table.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		m.enforce(w, r, next, guard.ConfigFromRule(rule))
	})
}

func (m *RouteGuard) enforce(w http.ResponseWriter, r *http.Request, next http.Handler, cfg guard.Config) {
	ctx := r.Context()
	s := SessionFromContext(ctx)
	location := r.URL.RequestURI()

	decision := m.guard.Evaluate(s, location, cfg)
	if decision.Allowed() {
		next.ServeHTTP(w, r)
		return
	}

	requestID := GetRequestIDFromContext(ctx)
	m.logger.Info("access denied",
		zap.String("request_id", requestID),
		zap.String("path", location),
		zap.String("role", s.Role().String()),
		zap.String("reason", string(decision.Reason)),
		zap.String("redirect_to", decision.Target))

	m.record(r, decision, requestID)

	if isAPIRequest(r) {
		details := map[string]interface{}{
			"redirect_to": decision.Target,
			"reason":      decision.Reason,
		}
		if decision.State.From != "" {
			details[FromParam] = decision.State.From
		}
		if decision.Reason == guard.ReasonUnauthenticated {
			_ = utils.WriteUnauthorized(w, "Authentication required", details)
			return
		}
		_ = utils.WriteForbidden(w, "Insufficient permissions", details)
		return
	}

	// 302 replaces the navigation, so the blocked URL never enters history
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, RedirectLocation(decision), http.StatusFound)
}

func (m *RouteGuard) record(r *http.Request, d guard.Decision, requestID string) {
	if m.recorder == nil {
		return
	}
	s := SessionFromContext(r.Context())

	event := models.NewAccessEvent(models.AccessActionDenied, r.URL.RequestURI()).
		WithRequest(r.RemoteAddr, r.UserAgent(), requestID)
	if s.User != nil {
		event.WithUser(s.User.ID, s.Role())
	}
	event.Reason = string(d.Reason)
	_ = event.SetDetails(map[string]string{"redirect_to": d.Target})

	if err := m.recorder.RecordAccess(event); err != nil {
		m.logger.Debug("access event not recorded",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// RedirectLocation renders a redirect decision as a URL, carrying State.From
// as the from query parameter
func RedirectLocation(d guard.Decision) string {
	if d.State.From == "" {
		return d.Target
	}
	u, err := url.Parse(d.Target)
	if err != nil {
		return d.Target
	}
	q := u.Query()
	q.Set(FromParam, d.State.From)
	u.RawQuery = q.Encode()
	return u.String()
}

func isAPIRequest(r *http.Request) bool {
	return utils.WantsJSON(r) || strings.HasPrefix(r.URL.Path, "/api/")
}
