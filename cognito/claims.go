package cognito

import (
	"errors"
	"fmt"

	"github.com/fieldops/field-manager/models"
	"github.com/google/uuid"
)

// ErrMissingClaim is returned when a required claim is missing
var ErrMissingClaim = errors.New("missing required claim")

// parseClaims converts verified token claims. It must only see claims whose
// signature, issuer and audience were already checked.
func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Sub)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	parsed := &ParsedClaims{
		Sub:           sub,
		Email:         claims.Email,
		Role:          RoleFromClaims(claims),
		Groups:        claims.Groups,
		EmailVerified: claims.EmailVerified,
		Username:      claims.CognitoUsername,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	return parsed, nil
}

// RoleFromClaims returns the role named by custom:userRole, falling back to the
// first cognito:groups entry that names a role. Unknown values yield RoleNone.
func RoleFromClaims(claims *Claims) models.Role {
	if claims.Role != "" {
		r, _ := models.ParseRole(claims.Role)
		return r
	}
	for _, g := range claims.Groups {
		if r, ok := models.ParseRole(g); ok {
			return r
		}
	}
	return models.RoleNone
}
