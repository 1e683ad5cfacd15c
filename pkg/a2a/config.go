package a2a

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeoutSeconds is the total per-request deadline applied when a
// config does not set one.
const DefaultTimeoutSeconds = 300

// ClientConfig configures a protocol client for one remote agent. It is
// immutable after construction and safe to share across concurrent tasks.
type ClientConfig struct {
	// Endpoint is the agent's base URL, normalised without a trailing slash.
	Endpoint string

	// AuthToken, when set, is sent as a bearer Authorization header. It is
	// never logged and never recorded in metrics or error text.
	AuthToken string

	// TimeoutSeconds is the total read deadline for each request.
	TimeoutSeconds int

	// VerifySSL disables TLS certificate verification when false.
	VerifySSL bool
}

// NewClientConfig normalises and validates an endpoint, applying defaults
// for the remaining fields.
func NewClientConfig(endpoint string) (ClientConfig, error) {
	cfg := ClientConfig{
		Endpoint:       endpoint,
		TimeoutSeconds: DefaultTimeoutSeconds,
		VerifySSL:      true,
	}
	normalised, err := normalizeEndpoint(endpoint)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.Endpoint = normalised
	return cfg, nil
}

// Validate checks a config built without NewClientConfig.
func (c ClientConfig) Validate() error {
	if _, err := normalizeEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSeconds)
	}
	return nil
}

// Timeout returns the configured deadline as a duration.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", fmt.Errorf("endpoint %q must start with http:// or https://", endpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint %q is not a valid URL: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}
