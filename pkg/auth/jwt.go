package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator verifies a bearer token and extracts its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// HMACValidator verifies tokens signed with a shared HS256 secret.
type HMACValidator struct {
	key      []byte
	issuer   string
	audience string
}

// NewHMACValidator creates a validator for HS256-signed tokens.
// Issuer and audience checks are applied only when non-empty.
func NewHMACValidator(secret, issuer, audience string) (*HMACValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}
	return &HMACValidator{
		key:      []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

func (v *HMACValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithValidate(true),
	}
	opts = appendClaimChecks(opts, v.issuer, v.audience)

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromToken(ctx, token), nil
}

// JWKSValidator verifies tokens against a JWKS endpoint. The key set is
// cached and refreshed in the background to handle key rotation.
type JWKSValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWKSValidator creates a validator that fetches public keys from jwksURL.
// The initial fetch happens eagerly so misconfiguration fails at startup;
// afterwards the set refreshes no more often than refreshInterval. The cache
// goroutine stops when ctx is cancelled.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer, audience string, refreshInterval time.Duration) (*JWKSValidator, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSValidator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	opts = appendClaimChecks(opts, v.issuer, v.audience)

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromToken(ctx, token), nil
}

func appendClaimChecks(opts []jwt.ParseOption, issuer, audience string) []jwt.ParseOption {
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func claimsFromToken(ctx context.Context, token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Issuer:  token.Issuer(),
		Custom:  make(map[string]any),
	}

	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, ok := pair.Key.(string)
		if !ok {
			continue
		}
		switch key {
		case "sub", "iss", "aud", "exp", "iat", "nbf", "jti":
			// Registered claims are either mapped to fields or irrelevant
			// after validation.
		default:
			claims.Custom[key] = pair.Value
		}
	}
	return claims
}

var (
	_ TokenValidator = (*HMACValidator)(nil)
	_ TokenValidator = (*JWKSValidator)(nil)
)
