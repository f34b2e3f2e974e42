package cognito

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Claims represents the claims of a Cognito ID or access token
type Claims struct {
	jwt.RegisteredClaims
	Sub             string   `json:"sub"`
	Email           string   `json:"email"`
	EmailVerified   bool     `json:"email_verified"`
	TokenUse        string   `json:"token_use"`
	AuthTime        int64    `json:"auth_time"`
	CognitoUsername string   `json:"cognito:username"`
	Groups          []string `json:"cognito:groups"`

	// Role is the platform role attribute set on the user pool
	Role string `json:"custom:userRole"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub           uuid.UUID
	Email         string
	Role          models.Role // RoleNone when the token carries no known role
	Groups        []string
	EmailVerified bool
	Username      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// CognitoValidator validates JWT tokens from AWS Cognito
type CognitoValidator struct {
	clientID   string
	issuer     string
	jwksURL    string
	httpClient *http.Client

	// Cache for JWKS
	jwksCache    *JWKS
	jwksCacheExp time.Time
	jwksCacheTTL time.Duration
	lastFetch    time.Time
	cacheMu      sync.RWMutex

	// minRefresh bounds how often an unknown kid may force a refetch
	minRefresh time.Duration

	// Cache for parsed public keys
	keyCache   map[string]*rsa.PublicKey
	keyCacheMu sync.RWMutex
}

// Config holds configuration for CognitoValidator
type Config struct {
	Region      string
	UserPoolID  string
	ClientID    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration

	// JWKSURL overrides the key set location derived from Region and UserPoolID
	JWKSURL string
}

// Issuer returns the token issuer for a user pool
func Issuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// NewCognitoValidator creates a new Cognito JWT validator
func NewCognitoValidator(config Config) *CognitoValidator {
	if config.CacheTTL == 0 {
		config.CacheTTL = 1 * time.Hour
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}

	issuer := Issuer(config.Region, config.UserPoolID)
	jwksURL := config.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	return &CognitoValidator{
		clientID:     config.ClientID,
		issuer:       issuer,
		jwksURL:      jwksURL,
		jwksCacheTTL: config.CacheTTL,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		keyCache:   make(map[string]*rsa.PublicKey),
		minRefresh: time.Minute,
	}
}

// ValidateToken verifies signature, issuer, audience and token use, then parses the claims
func (v *CognitoValidator) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		publicKey, err := v.getPublicKey(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		return publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	// Access tokens carry client_id instead of aud; only ID tokens are accepted here
	if len(claims.Audience) == 0 || !containsAudience(claims.Audience, v.clientID) {
		return nil, ErrInvalidAudience
	}

	if claims.TokenUse != "id" {
		return nil, fmt.Errorf("%w: token_use %q", ErrInvalidToken, claims.TokenUse)
	}

	return parseClaims(claims)
}

// FetchJWKS fetches the JWKS from Cognito
func (v *CognitoValidator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && time.Now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.lastFetch = time.Now()
	v.jwksCacheExp = v.lastFetch.Add(v.jwksCacheTTL)
	v.cacheMu.Unlock()

	return &jwks, nil
}

func (v *CognitoValidator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.keyCacheMu.RLock()
	if key, exists := v.keyCache[kid]; exists {
		v.keyCacheMu.RUnlock()
		return key, nil
	}
	v.keyCacheMu.RUnlock()

	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	jwk := findKey(jwks, kid)
	if jwk == nil && v.refreshAllowed() {
		// the pool may have rotated its signing keys since the last fetch
		v.InvalidateCache()
		if jwks, err = v.FetchJWKS(ctx); err != nil {
			return nil, err
		}
		jwk = findKey(jwks, kid)
	}
	if jwk == nil {
		return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
	}

	publicKey, err := jwkToRSAPublicKey(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
	}

	v.keyCacheMu.Lock()
	v.keyCache[kid] = publicKey
	v.keyCacheMu.Unlock()

	return publicKey, nil
}

func (v *CognitoValidator) refreshAllowed() bool {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()
	return time.Since(v.lastFetch) >= v.minRefresh
}

func findKey(jwks *JWKS, kid string) *JWK {
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			return &jwks.Keys[i]
		}
	}
	return nil
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "" && jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func containsAudience(audiences jwt.ClaimStrings, clientID string) bool {
	for _, aud := range audiences {
		if aud == clientID {
			return true
		}
	}
	return false
}

// InvalidateCache drops cached keys so the next validation refetches the key set
func (v *CognitoValidator) InvalidateCache() {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.jwksCache = nil
	v.jwksCacheExp = time.Time{}

	v.keyCacheMu.Lock()
	defer v.keyCacheMu.Unlock()
	v.keyCache = make(map[string]*rsa.PublicKey)
}
