package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/field-manager/auth"
	"github.com/fieldops/field-manager/cognito"
	"github.com/fieldops/field-manager/config"
	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/internal/guard"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/repositories"
	"github.com/fieldops/field-manager/repositories/postgres"
	"github.com/fieldops/field-manager/services"
	"github.com/fieldops/field-manager/services/audit"
	"github.com/fieldops/field-manager/session"
	"github.com/fieldops/field-manager/utils"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users        repositories.UserRepository
	AccessEvents repositories.AccessEventRepository
	TxManager    repositories.TransactionManager

	// Access control
	Sessions    *session.Store
	AccessTable *access.Table
	Guard       *guard.Guard
	Audit       *audit.AuditService // nil when auditing is disabled

	// Services
	AuthService *services.AuthService // nil when Cognito is not configured
	UserService *services.UserService

	// HTTP
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	RouteGuard     *middleware.RouteGuard

	unsubscribe func()
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies connects to Postgres and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps, err := NewDependenciesFromFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromFactory wires everything on top of an existing repository factory
func NewDependenciesFromFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.initRepositories()

	if err := deps.initAccess(); err != nil {
		return nil, fmt.Errorf("failed to initialize access policy: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	deps.initServices()
	deps.initAuth()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initDatabase(ctx context.Context) error {
	if err := d.RepoFactory.InitSchema(ctx); err != nil {
		return err
	}
	d.Logger.Info("database connection established",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()
	d.Users = repos.Users
	d.AccessEvents = repos.AccessEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initAccess() error {
	table, err := LoadAccessTable(d.Config.Access, d.Logger)
	if err != nil {
		return err
	}
	d.AccessTable = table
	d.Guard = guard.FromTable(table)

	ttl := d.Config.Access.SessionTTL
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	d.Sessions = session.NewStore(ttl, d.Logger)
	// session IDs are bearer secrets and stay out of the log
	d.unsubscribe = d.Sessions.Subscribe(func(e session.Event) {
		d.Logger.Debug("session store changed",
			zap.String("kind", string(e.Kind)),
			zap.String("user_id", e.UserID.String()),
			zap.Uint64("version", e.Version))
	})

	d.Logger.Info("access policy loaded",
		zap.String("policy_file", d.Config.Access.PolicyFile),
		zap.Int("rules", len(table.Rules())),
		zap.Stringers("admin_roles", table.Policy.AdminRoles()),
		zap.Duration("session_ttl", ttl))
	return nil
}

func (d *Dependencies) initAudit() error {
	if !d.Config.Audit.Enabled {
		d.Logger.Warn("access audit disabled")
		return nil
	}
	svc := audit.NewAuditService(d.AccessEvents, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.WorkerCount,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc
	return nil
}

func (d *Dependencies) initServices() {
	d.UserService = services.NewUserService(d.Users, d.TxManager, d.Sessions, d.auditRecorder(), d.AccessTable.Policy, d.Logger)
}

// auditRecorder avoids handing out a typed nil when auditing is disabled
func (d *Dependencies) auditRecorder() services.AuditRecorder {
	if d.Audit == nil {
		return nil
	}
	return d.Audit
}

func (d *Dependencies) accessRecorder() middleware.AccessRecorder {
	if d.Audit == nil {
		return nil
	}
	return d.Audit
}

func (d *Dependencies) initAuth() {
	cfg := d.Config
	d.RouteGuard = middleware.NewRouteGuard(d.Guard, d.AccessTable, d.accessRecorder(), d.Logger)

	if cfg.Cognito.Domain == "" || cfg.Cognito.ClientID == "" {
		d.Logger.Warn("cognito not configured, auth endpoints disabled")
		// cookie sessions still resolve; bearer tokens are never accepted
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, nil, d.Sessions, d.Logger)
		return
	}

	cognitoValidator := cognito.NewCognitoValidator(cognito.Config{
		Region:      cfg.Cognito.Region,
		UserPoolID:  cfg.Cognito.UserPoolID,
		ClientID:    cfg.Cognito.ClientID,
		CacheTTL:    time.Hour,
		HTTPTimeout: 10 * time.Second,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(&cognitoTokenValidatorAdapter{
		validator: cognitoValidator,
		issuer:    cognito.Issuer(cfg.Cognito.Region, cfg.Cognito.UserPoolID),
	}, d.Users, d.Sessions, d.Logger)

	d.AuthService = services.NewAuthService(
		services.NewCognitoTokenExchanger(cfg.Cognito),
		cognitoValidator,
		d.Users,
		d.Sessions,
		d.auditRecorder(),
		cfg.Cognito.RedirectURI,
		d.Logger,
	)
	d.authHandler = auth.NewHandler(cfg, d.AuthService, d.Logger)
	d.Logger.Info("auth handler initialized")
}

// LoadAccessTable reads the route table and applies the environment overrides
func LoadAccessTable(cfg config.AccessConfig, logger *zap.Logger) (*access.Table, error) {
	table, err := access.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	if cfg.LoginPath != "" {
		if !utils.IsLocalPath(cfg.LoginPath) {
			return nil, fmt.Errorf("login path %q is not a local path", cfg.LoginPath)
		}
		table.LoginPath = cfg.LoginPath
	}
	if cfg.DefaultRedirect != "" {
		if !utils.IsLocalPath(cfg.DefaultRedirect) {
			return nil, fmt.Errorf("default redirect %q is not a local path", cfg.DefaultRedirect)
		}
		table.DefaultRedirect = cfg.DefaultRedirect
	}
	if len(cfg.AdminEquivalents) > 0 {
		policy, err := access.ParsePolicy(cfg.AdminEquivalents)
		if err != nil {
			return nil, err
		}
		table.Policy = policy
	}

	for _, w := range table.Warnings {
		logger.Warn("access policy warning", zap.String("warning", w))
	}
	return table, nil
}

// cognitoTokenValidatorAdapter adapts cognito.CognitoValidator to middleware.TokenValidator
type cognitoTokenValidatorAdapter struct {
	validator services.IDTokenValidator
	issuer    string
}

func (a *cognitoTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	claims := &middleware.Claims{
		Sub:           parsed.Sub.String(),
		Email:         parsed.Email,
		EmailVerified: parsed.EmailVerified,
		Groups:        parsed.Groups,
		Role:          parsed.Role,
		Iss:           a.issuer,
	}
	if !parsed.ExpiresAt.IsZero() {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	if !parsed.IssuedAt.IsZero() {
		claims.Iat = parsed.IssuedAt.Unix()
	}
	return claims, nil
}

// RunJanitor sweeps expired sessions until ctx is done
func (d *Dependencies) RunJanitor(ctx context.Context) {
	d.Sessions.RunJanitor(ctx, d.Config.Access.SweepInterval)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}

	if d.Audit != nil {
		timeout := d.Config.Audit.StopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < timeout || timeout <= 0 {
				timeout = left
			}
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		if failed := d.Audit.GetStats().Failed; failed > 0 {
			d.Logger.Warn("access events failed to persist", zap.Uint64("failed", failed))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
