// Package auth issues and verifies the bearer tokens used by the API.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

const tokenTTL = 12 * time.Hour

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID   string
	Username string
	Role     models.Role
	OrgID    string
}

// IsAuthority reports whether the principal holds the authority role.
func (p *Principal) IsAuthority() bool {
	return p.Role == models.RoleAuthorityAdmin
}

// AdminsOrg reports whether the principal administers the given org.
func (p *Principal) AdminsOrg(orgID string) bool {
	return p.Role == models.RoleOrgAdmin && p.OrgID != "" && p.OrgID == orgID
}

type ctxKey string

const principalKey ctxKey = "auth_principal"

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal on the context, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	OrgID    string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer builds an issuer from the shared secret.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("auth: JWT secret must be at least 16 bytes")
	}
	return &TokenIssuer{secret: []byte(secret)}, nil
}

// Issue creates a signed token for the user.
func (t *TokenIssuer) Issue(u *models.User, now time.Time) (string, error) {
	c := claims{
		Username: u.Username,
		Role:     string(u.Role),
		OrgID:    u.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token back into a principal.
func (t *TokenIssuer) Verify(tokenString string) (*Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "verify_token", "", fmt.Errorf("invalid token: %w", err))
	}

	role := models.Role(c.Role)
	switch role {
	case models.RoleCitizen, models.RoleOrgAdmin, models.RoleAuthorityAdmin:
	default:
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "verify_token", "", fmt.Errorf("unknown role %q", c.Role))
	}

	return &Principal{
		UserID:   c.Subject,
		Username: c.Username,
		Role:     role,
		OrgID:    c.OrgID,
	}, nil
}
