package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/field-manager/cognito"
	"github.com/fieldops/field-manager/config"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/repositories"
	"github.com/fieldops/field-manager/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenResponse represents the OAuth2 token endpoint response from Cognito
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// CognitoTokenExchanger exchanges authorization codes for tokens via Cognito
type CognitoTokenExchanger struct {
	cfg        config.CognitoConfig
	httpClient *http.Client
}

// NewCognitoTokenExchanger creates a new token exchanger
func NewCognitoTokenExchanger(cfg config.CognitoConfig) *CognitoTokenExchanger {
	return &CognitoTokenExchanger{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ExchangeCode exchanges an authorization code for ID and access tokens.
// Transport failures and 5xx responses are ErrIdentityProviderUnavailable;
// a rejected or malformed exchange is ErrCodeExchangeFailed.
func (e *CognitoTokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI, state string) (idToken string, err error) {
	if e.cfg.Domain == "" || e.cfg.ClientID == "" {
		return "", ErrIdentityProviderUnavailable.Wrap(errors.New("cognito not configured"))
	}

	tokenURL := strings.TrimSuffix(e.cfg.Domain, "/") + "/oauth2/token"
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {e.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	if e.cfg.ClientSecret != "" {
		data.Set("client_secret", e.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", ErrCodeExchangeFailed.Wrap(fmt.Errorf("create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", ErrIdentityProviderUnavailable.Wrap(fmt.Errorf("token request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrIdentityProviderUnavailable.Wrap(fmt.Errorf("read token response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("token exchange failed: status %d, body: %s", resp.StatusCode, truncate(string(body), 256))
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", ErrIdentityProviderUnavailable.Wrap(cause).WithDetail("status", resp.StatusCode)
		}
		return "", ErrCodeExchangeFailed.Wrap(cause).WithDetail("status", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", ErrCodeExchangeFailed.Wrap(fmt.Errorf("parse token response: %w", err))
	}

	if tokenResp.IDToken == "" {
		return "", ErrCodeExchangeFailed.Wrap(errors.New("no id_token in response"))
	}

	return tokenResp.IDToken, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CodeExchanger exchanges an OAuth2 authorization code for an ID token
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI, state string) (idToken string, err error)
}

// IDTokenValidator validates an ID token and returns its claims
type IDTokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*cognito.ParsedClaims, error)
}

// AuditRecorder receives account events for the access audit trail
type AuditRecorder interface {
	RecordLogin(userID uuid.UUID, role models.Role, path, requestID string) error
	RecordLogout(userID uuid.UUID, role models.Role, path, requestID string) error
	RecordRoleChange(actorID uuid.UUID, actorRole models.Role, targetID uuid.UUID, from, to models.Role, requestID string) error
}

// AuthService turns an OAuth2 callback into an established session. The
// stored user row, not the token, is authoritative for the role of a
// returning user.
type AuthService struct {
	exchanger   CodeExchanger
	validator   IDTokenValidator
	users       repositories.UserRepository
	sessions    session.Writer
	recorder    AuditRecorder
	redirectURI string
	logger      *zap.Logger
}

// NewAuthService creates a new AuthService. recorder may be nil.
func NewAuthService(
	exchanger CodeExchanger,
	validator IDTokenValidator,
	users repositories.UserRepository,
	sessions session.Writer,
	recorder AuditRecorder,
	redirectURI string,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		exchanger:   exchanger,
		validator:   validator,
		users:       users,
		sessions:    sessions,
		recorder:    recorder,
		redirectURI: redirectURI,
		logger:      logger,
	}
}

// Login exchanges code for an ID token, resolves the user and establishes a
// session. The returned ID is the value of the session cookie.
func (s *AuthService) Login(ctx context.Context, code string) (string, session.Session, error) {
	if strings.TrimSpace(code) == "" {
		return "", session.Empty, ErrMissingAuthCode
	}

	idToken, err := s.exchanger.ExchangeCode(ctx, code, s.redirectURI, "")
	if err != nil {
		if IsExternalError(err) {
			return "", session.Empty, err
		}
		return "", session.Empty, ErrCodeExchangeFailed.Wrap(err)
	}

	claims, err := s.validator.ValidateToken(ctx, idToken)
	if err != nil {
		if errors.Is(err, cognito.ErrTokenExpired) {
			return "", session.Empty, ErrTokenExpired.Wrap(err)
		}
		return "", session.Empty, ErrInvalidToken.Wrap(err)
	}

	user, err := s.resolveUser(ctx, claims)
	if err != nil {
		return "", session.Empty, err
	}

	id, sess, user, err := s.establish(ctx, user)
	if err != nil {
		return "", session.Empty, err
	}

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()))
	if s.recorder != nil {
		logRecordError(s.logger, s.recorder.RecordLogin(user.ID, user.Role, "/auth/callback", middleware.GetRequestIDFromContext(ctx)))
	}

	return id, sess, nil
}

// maxEstablishAttempts bounds how often login chases a changing role
const maxEstablishAttempts = 3

// establish stores a session for user, then re-reads the user row. A role
// change that commits before Establish revoked its sessions too early to see
// this one, so the stored role is checked after the session exists and the
// session is reissued when it moved. A change committing after the re-read
// revokes the session itself.
func (s *AuthService) establish(ctx context.Context, user *models.User) (string, session.Session, *models.User, error) {
	for attempt := 0; attempt < maxEstablishAttempts; attempt++ {
		id, sess := s.sessions.Establish(sessionUser(user))

		current, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			s.sessions.Revoke(id)
			return "", session.Empty, nil, ErrDatabaseError.Wrap(err).WithDetail("op", "confirm role")
		}
		if current.Role == user.Role {
			return id, sess, user, nil
		}

		s.logger.Info("role changed during login; reissuing session",
			zap.String("user_id", user.ID.String()),
			zap.String("from", user.Role.String()),
			zap.String("to", current.Role.String()))
		s.sessions.Revoke(id)
		user = current
	}
	return "", session.Empty, nil, ErrConcurrentUpdate.Wrap(nil).WithDetail("id", user.ID.String())
}

func sessionUser(u *models.User) session.SessionUser {
	return session.SessionUser{ID: u.ID, Email: u.Email, Role: u.Role}
}

// resolveUser looks the user up by Cognito subject, provisioning them on
// first login. New users take the token's role claim, or player when the
// claim is absent or unknown. The user ID is the Cognito subject so bearer
// sessions and cookie sessions name the same user.
func (s *AuthService) resolveUser(ctx context.Context, claims *cognito.ParsedClaims) (*models.User, error) {
	sub := claims.Sub.String()

	user, err := s.users.GetByCognitoSub(ctx, sub)
	if err == nil {
		if !user.Role.Valid() {
			// the session still establishes; every role check denies
			s.logger.Warn("stored user has no valid role",
				zap.String("user_id", user.ID.String()))
		}
		return user, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDatabaseError.Wrap(err).WithDetail("op", "look up user")
	}

	role := claims.Role
	if !role.Valid() {
		role = models.RolePlayer
	}
	displayName := claims.Username
	user = models.NewUser(claims.Email, sub, displayName, role)
	user.ID = claims.Sub

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateEmail.Wrap(err).WithDetail("email", claims.Email)
		}
		return nil, ErrDatabaseError.Wrap(err).WithDetail("op", "provision user")
	}

	s.logger.Info("provisioned user on first login",
		zap.String("user_id", user.ID.String()),
		zap.String("role", role.String()))
	return user, nil
}

// Logout revokes the stored session. Unknown or empty IDs are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string, current session.Session) {
	if sessionID == "" {
		return
	}
	if !s.sessions.Revoke(sessionID) {
		return
	}
	if current.User == nil {
		return
	}
	s.logger.Info("user logged out", zap.String("user_id", current.User.ID.String()))
	if s.recorder != nil {
		logRecordError(s.logger, s.recorder.RecordLogout(current.User.ID, current.Role(), "/auth/logout", middleware.GetRequestIDFromContext(ctx)))
	}
}

// logRecordError notes a dropped audit event; auditing never fails the caller
func logRecordError(logger *zap.Logger, err error) {
	if err != nil {
		logger.Debug("access event not recorded", zap.Error(err))
	}
}
