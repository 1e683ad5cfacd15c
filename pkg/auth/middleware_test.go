package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/config"
)

type staticValidator struct {
	claims *Claims
	err    error
}

func (v *staticValidator) ValidateToken(_ context.Context, _ string) (*Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func protectedHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if wantSubject != "" {
			if claims == nil {
				t.Error("expected claims in request context")
			} else if claims.Subject != wantSubject {
				t.Errorf("Subject = %q, want %q", claims.Subject, wantSubject)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := Middleware(&staticValidator{claims: &Claims{}}, nil)(protectedHandler(t, ""))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing Authorization header") {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestMiddlewareRejectsNonBearerScheme(t *testing.T) {
	handler := Middleware(&staticValidator{claims: &Claims{}}, nil)(protectedHandler(t, ""))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid Authorization format") {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	handler := Middleware(&staticValidator{err: ErrInvalidToken}, nil)(protectedHandler(t, ""))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid token") {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestMiddlewarePassesClaimsToHandler(t *testing.T) {
	validator := &staticValidator{claims: &Claims{Subject: "user-1"}}
	handler := Middleware(validator, nil)(protectedHandler(t, "user-1"))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareSkipsExcludedPaths(t *testing.T) {
	excluded := []string{"/health", "/.well-known/agent-card.json"}
	handler := Middleware(&staticValidator{err: ErrInvalidToken}, excluded)(protectedHandler(t, ""))

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/health/", http.StatusOK},
		{"/.well-known/agent-card.json", http.StatusOK},
		{"/", http.StatusUnauthorized},
		{"/metrics", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestMiddlewareWithHMACValidator(t *testing.T) {
	validator, err := NewHMACValidator("topsecret", "https://issuer.test", "harness")
	if err != nil {
		t.Fatalf("NewHMACValidator: %v", err)
	}
	handler := Middleware(validator, nil)(protectedHandler(t, "user-1"))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, buildToken(t, nil), "topsecret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, buildToken(t, nil), "wrong"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestNewValidatorFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled returns nil", func(t *testing.T) {
		validator, err := NewValidatorFromConfig(ctx, &config.AuthConfig{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if validator != nil {
			t.Fatal("expected nil validator when auth is disabled")
		}
	})

	t.Run("secret builds HMAC validator", func(t *testing.T) {
		validator, err := NewValidatorFromConfig(ctx, &config.AuthConfig{
			Enabled: true,
			Secret:  "topsecret",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := validator.(*HMACValidator); !ok {
			t.Fatalf("validator type = %T, want *HMACValidator", validator)
		}
	})

	t.Run("conflicting key material rejected", func(t *testing.T) {
		_, err := NewValidatorFromConfig(ctx, &config.AuthConfig{
			Enabled:         true,
			Secret:          "topsecret",
			JWKSURL:         "https://issuer.test/jwks.json",
			RefreshInterval: 15 * time.Minute,
		})
		if err == nil {
			t.Fatal("expected error when both secret and jwks_url are set")
		}
	})
}
