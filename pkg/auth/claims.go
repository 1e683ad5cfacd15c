// Package auth protects the harness HTTP surface with bearer-token
// authentication. Tokens are verified either against a static HS256 secret
// or against a JWKS endpoint with automatic key refresh.
package auth

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const claimsContextKey contextKey = "harness_auth_claims"

// Claims carries the verified identity extracted from a token.
type Claims struct {
	// Subject is the unique identifier of the caller (sub claim).
	Subject string `json:"sub"`

	// Issuer is the token issuer (iss claim).
	Issuer string `json:"iss,omitempty"`

	// Custom contains any non-registered claims.
	Custom map[string]any `json:"-"`
}

// GetClaim retrieves a custom claim by key.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	val, ok := c.Custom[key]
	return val, ok
}

// ClaimsFromContext extracts claims from a context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
