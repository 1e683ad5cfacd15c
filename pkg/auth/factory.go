package auth

import (
	"context"
	"fmt"

	"github.com/wuTims/tau2-bench-agent/pkg/config"
)

// NewValidatorFromConfig creates a TokenValidator from configuration.
// Returns nil when authentication is not enabled. The context bounds the
// lifetime of the JWKS refresh goroutine, if any.
func NewValidatorFromConfig(ctx context.Context, cfg *config.AuthConfig) (TokenValidator, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	if cfg.Secret != "" {
		return NewHMACValidator(cfg.Secret, cfg.Issuer, cfg.Audience)
	}

	validator, err := NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience, cfg.RefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS validator: %w", err)
	}
	return validator, nil
}
