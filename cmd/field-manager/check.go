package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fieldops/field-manager/app"
	"github.com/fieldops/field-manager/config"
	"github.com/fieldops/field-manager/internal/guard"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type checkOptions struct {
	policyFile       string
	adminEquivalents []string
	role             string
	path             string
	unauthenticated  bool
	asJSON           bool
}

// checkResult is the machine-readable form of one evaluation
type checkResult struct {
	Path     string   `json:"path"`
	Rule     string   `json:"rule,omitempty"`
	Role     string   `json:"role,omitempty"`
	Outcome  string   `json:"outcome"`
	Reason   string   `json:"reason"`
	Location string   `json:"location,omitempty"`
	Admins   []string `json:"admin_roles"`
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a navigation against the route table",
		Long: `Evaluate whether a session with the given role may open a path.

Unknown role names are kept as-is and behave like a session without a role.`,
		Example: `  field-manager check --path /field --role player
  field-manager check --path /admin --unauthenticated --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.policyFile, "policy", "config/access.yaml", "route table file; a missing file uses the built-in table")
	f.StringSliceVar(&opts.adminEquivalents, "admin-equivalents", nil, "roles treated as admin, overriding the file")
	f.StringVar(&opts.role, "role", "", "role of the evaluated session")
	f.StringVar(&opts.path, "path", "", "navigation target, e.g. /field?tab=teams")
	f.BoolVar(&opts.unauthenticated, "unauthenticated", false, "evaluate without a session")
	f.BoolVar(&opts.asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("path")
	cmd.MarkFlagsMutuallyExclusive("role", "unauthenticated")
	return cmd
}

func runCheck(out io.Writer, opts *checkOptions) error {
	table, err := app.LoadAccessTable(config.AccessConfig{
		PolicyFile:       opts.policyFile,
		AdminEquivalents: opts.adminEquivalents,
	}, zap.NewNop())
	if err != nil {
		return err
	}
	g := guard.FromTable(table)

	s := session.Empty
	if !opts.unauthenticated {
		role, ok := models.ParseRole(opts.role)
		if !ok {
			role = models.Role(opts.role)
		}
		s = session.Ephemeral(session.SessionUser{ID: uuid.New(), Role: role}, time.Now().Add(time.Minute))
	}

	result := checkResult{Path: opts.path, Role: opts.role}
	for _, r := range table.Policy.AdminRoles() {
		result.Admins = append(result.Admins, r.String())
	}

	// unmatched paths are not guarded by the server
	d := guard.Decision{Outcome: guard.Render, Reason: guard.ReasonAuthorized}
	if rule, ok := table.Match(opts.path); ok {
		result.Rule = rule.Path
		d = g.Evaluate(s, opts.path, guard.ConfigFromRule(rule))
	}
	result.Outcome = d.Outcome.String()
	result.Reason = string(d.Reason)
	if !d.Allowed() {
		result.Location = middleware.RedirectLocation(d)
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	rule := result.Rule
	if rule == "" {
		rule = "(none)"
	}
	fmt.Fprintf(out, "path:    %s\nrule:    %s\noutcome: %s\nreason:  %s\n", result.Path, rule, result.Outcome, result.Reason)
	if result.Location != "" {
		fmt.Fprintf(out, "target:  %s\n", result.Location)
	}
	return nil
}
