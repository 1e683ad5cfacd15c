package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func buildToken(t *testing.T, mutate func(*jwt.Builder) *jwt.Builder) jwt.Token {
	t.Helper()

	b := jwt.NewBuilder().
		Subject("user-1").
		Issuer("https://issuer.test").
		Audience([]string{"harness"}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if mutate != nil {
		b = mutate(b)
	}

	token, err := b.Build()
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}
	return token
}

func signHS256(t *testing.T, token jwt.Token, secret string) string {
	t.Helper()

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func TestNewHMACValidatorRequiresSecret(t *testing.T) {
	if _, err := NewHMACValidator("", "", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestHMACValidatorAcceptsValidToken(t *testing.T) {
	validator, err := NewHMACValidator("topsecret", "https://issuer.test", "harness")
	if err != nil {
		t.Fatalf("NewHMACValidator: %v", err)
	}

	token := buildToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("scope", "evaluations:run")
	})

	claims, err := validator.ValidateToken(context.Background(), signHS256(t, token, "topsecret"))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Issuer != "https://issuer.test" {
		t.Errorf("Issuer = %q, want https://issuer.test", claims.Issuer)
	}
	if got, _ := claims.GetClaim("scope"); got != "evaluations:run" {
		t.Errorf("scope claim = %v, want evaluations:run", got)
	}
}

func TestHMACValidatorRejectsBadTokens(t *testing.T) {
	validator, err := NewHMACValidator("topsecret", "https://issuer.test", "harness")
	if err != nil {
		t.Fatalf("NewHMACValidator: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "wrong secret",
			token: signHS256(t, buildToken(t, nil), "othersecret"),
		},
		{
			name: "expired",
			token: signHS256(t, buildToken(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Expiration(time.Now().Add(-time.Hour))
			}), "topsecret"),
		},
		{
			name: "wrong issuer",
			token: signHS256(t, buildToken(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Issuer("https://evil.test")
			}), "topsecret"),
		},
		{
			name: "wrong audience",
			token: signHS256(t, buildToken(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Audience([]string{"some-other-service"})
			}), "topsecret"),
		},
		{
			name:  "garbage",
			token: "not-a-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateToken(context.Background(), tt.token)
			if err == nil {
				t.Fatal("expected validation error, got none")
			}
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("error should wrap ErrInvalidToken: %v", err)
			}
		})
	}
}

func TestHMACValidatorSkipsOptionalChecks(t *testing.T) {
	validator, err := NewHMACValidator("topsecret", "", "")
	if err != nil {
		t.Fatalf("NewHMACValidator: %v", err)
	}

	token := buildToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Issuer("https://anything.test").Audience([]string{"whatever"})
	})

	if _, err := validator.ValidateToken(context.Background(), signHS256(t, token, "topsecret")); err != nil {
		t.Fatalf("issuer and audience should not be checked when unset: %v", err)
	}
}

// jwksTestServer serves a key set containing the public half of a freshly
// generated RSA key and returns the signing key alongside.
func jwksTestServer(t *testing.T) (*httptest.Server, jwk.Key) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	signKey, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to wrap private key: %v", err)
	}
	if err := signKey.Set(jwk.KeyIDKey, "harness-test-key"); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}

	publicKey, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to wrap public key: %v", err)
	}
	if err := publicKey.Set(jwk.KeyIDKey, "harness-test-key"); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}
	if err := publicKey.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set alg: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(publicKey); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return server, signKey
}

func TestJWKSValidatorVerifiesAgainstRemoteKeys(t *testing.T) {
	server, signKey := jwksTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validator, err := NewJWKSValidator(ctx, server.URL+"/.well-known/jwks.json", "https://issuer.test", "harness", time.Minute)
	if err != nil {
		t.Fatalf("NewJWKSValidator: %v", err)
	}

	signed, err := jwt.Sign(buildToken(t, nil), jwt.WithKey(jwa.RS256, signKey))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	claims, err := validator.ValidateToken(ctx, string(signed))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
}

func TestJWKSValidatorRejectsForeignKey(t *testing.T) {
	server, _ := jwksTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validator, err := NewJWKSValidator(ctx, server.URL+"/.well-known/jwks.json", "https://issuer.test", "harness", time.Minute)
	if err != nil {
		t.Fatalf("NewJWKSValidator: %v", err)
	}

	foreignKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	wrapped, err := jwk.FromRaw(foreignKey)
	if err != nil {
		t.Fatalf("failed to wrap key: %v", err)
	}
	if err := wrapped.Set(jwk.KeyIDKey, "harness-test-key"); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}

	signed, err := jwt.Sign(buildToken(t, nil), jwt.WithKey(jwa.RS256, wrapped))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.ValidateToken(ctx, string(signed)); err == nil {
		t.Fatal("expected rejection of token signed with a foreign key")
	}
}

func TestNewJWKSValidatorRequiresReachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := NewJWKSValidator(ctx, server.URL+"/jwks.json", "", "", time.Minute); err == nil {
		t.Fatal("expected error for unreachable JWKS endpoint")
	}
}
