package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the client looks at.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	OrgID    int    `json:"org_id,omitempty"`
}

// TokenVerifier checks provider-issued tokens against a remote JWKS before
// they are presented to the login endpoint.
type TokenVerifier struct {
	jwks   keyfunc.Keyfunc
	cancel context.CancelFunc
}

// NewTokenVerifier creates a verifier that fetches and caches keys from
// jwksURL. Keys are refreshed in the background until Close.
func NewTokenVerifier(ctx context.Context, jwksURL string) (*TokenVerifier, error) {
	ctx, cancel := context.WithCancel(ctx)
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return &TokenVerifier{jwks: k, cancel: cancel}, nil
}

// Verify validates the signature and time claims of token.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// Close stops the background key refresh.
func (v *TokenVerifier) Close() {
	v.cancel()
}

// tokenExpiry reads the exp claim without verifying the signature. ok is
// false for opaque tokens and JWTs without exp.
func tokenExpiry(token string) (exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
