// Package config defines the harness configuration and its processing
// pipeline: read raw bytes from a provider, expand environment variables,
// decode, apply defaults, validate.
package config

import (
	"fmt"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/databases"
)

// Defaults for the evaluation service identity. The name doubles as the
// agent card name the front-end publishes.
const (
	DefaultServiceName        = "tau2_eval_agent"
	DefaultServiceDescription = "Evaluation service that benchmarks conversational agents over the Agent Protocol"
)

// Config is the root configuration for the evaluation service and CLI.
type Config struct {
	// Name and Description identify the service on its agent card.
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	Server        ServerConfig        `yaml:"server,omitempty"`
	Client        ClientConfig        `yaml:"client,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty"`
	Session       SessionConfig       `yaml:"session,omitempty"`
	Store         StoreConfig         `yaml:"store,omitempty"`
	Auth          AuthConfig          `yaml:"auth,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
}

// Process runs the standard pipeline on a decoded config: defaults first,
// then validation.
func Process(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = DefaultServiceName
	}
	if c.Description == "" {
		c.Description = DefaultServiceDescription
	}

	c.Server.SetDefaults()
	c.Client.SetDefaults()
	c.LLM.SetDefaults()
	c.Session.SetDefaults()
	c.Store.SetDefaults()
	c.Auth.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config validation failed: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config validation failed: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config validation failed: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config validation failed: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config validation failed: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	return nil
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty"`

	// ReadTimeout bounds request reading. Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout bounds response writing. Evaluations run inline, so
	// this must cover a full run. Default: 10m
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`

	// IdleTimeout bounds keep-alive connections. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`

	// ShutdownGrace is how long in-flight requests get on shutdown.
	// Default: 5s
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`

	// CORS settings. Defaulted for development when absent.
	CORS *CORSConfig `yaml:"cors,omitempty"`
}

// CORSConfig configures cross-origin access to the front-end.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative")
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientConfig configures outbound protocol requests to agents under test.
type ClientConfig struct {
	// TimeoutSeconds is the per-request deadline. Default: 300
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// VerifySSL controls certificate verification. Default: true
	VerifySSL *bool `yaml:"verify_ssl,omitempty"`

	// AuthToken is attached as a bearer header on outbound requests.
	// It stays in memory: the harness never logs it and never writes it
	// into results or tool outputs. Usually set via env expansion, e.g.
	// auth_token: ${TAU2_AGENT_TOKEN}
	AuthToken string `yaml:"auth_token,omitempty"`
}

func (c *ClientConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 300
	}
	if c.VerifySSL == nil {
		verify := true
		c.VerifySSL = &verify
	}
}

func (c *ClientConfig) Validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	return nil
}

// LLMConfig configures the completion backend shared by the service
// controller and the user simulator.
type LLMConfig struct {
	// Provider is "openai" or "gemini". Inferred from the model when
	// empty.
	Provider string `yaml:"provider,omitempty"`

	// Model is the model identifier, e.g. "gpt-4o".
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates against the backend. Falls back to the
	// provider's conventional environment variable when unset.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the API base URL for OpenAI-compatible backends.
	Host string `yaml:"host,omitempty"`

	// Temperature is the sampling temperature.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the generated response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// TimeoutSeconds is the per-request deadline.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// MaxRetries and RetryDelaySeconds shape the retry loop.
	MaxRetries        int `yaml:"max_retries,omitempty"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds,omitempty"`
}

// SetDefaults leaves model selection to the provider layer, which infers
// the provider from the model name and fills provider-specific defaults.
func (c *LLMConfig) SetDefaults() {}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("unsupported provider: %s (valid: openai, gemini)", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// Backend names for the session and store sections.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
)

// SessionConfig selects where conversation sessions live.
type SessionConfig struct {
	// Backend is "memory" or "sql". Default: memory
	Backend string `yaml:"backend,omitempty"`

	// Database configures the SQL backend.
	Database databases.Config `yaml:"database,omitempty"`
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Backend == BackendSQL {
		c.Database.SetDefaults()
	}
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSQL:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported backend: %s (valid: memory, sql)", c.Backend)
	}
}

// StoreConfig selects where evaluation results are persisted.
type StoreConfig struct {
	// Backend is "memory" or "sql". Default: memory
	Backend string `yaml:"backend,omitempty"`

	// Database configures the SQL backend.
	Database databases.Config `yaml:"database,omitempty"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Backend == BackendSQL {
		c.Database.SetDefaults()
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSQL:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported backend: %s (valid: memory, sql)", c.Backend)
	}
}

// AuthConfig configures bearer JWT validation on the front-end.
//
// Disabled by default. When enabled, requests must carry a JWT verified
// against either a static HS256 secret or a JWKS endpoint.
type AuthConfig struct {
	// Enabled turns authentication on. Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Secret is a static HS256 signing secret.
	Secret string `yaml:"secret,omitempty"`

	// JWKSURL is a JSON Web Key Set endpoint for asymmetric keys.
	// Exactly one of Secret and JWKSURL must be set when enabled.
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected iss claim. Optional.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience is the expected aud claim. Optional.
	Audience string `yaml:"audience,omitempty"`

	// RefreshInterval is how often the JWKS is refreshed. Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// ExcludedPaths skip authentication.
	// Default: /health and the agent card.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty"`
}

func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{
			"/health",
			"/.well-known/agent-card.json",
		}
	}
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Secret == "" && c.JWKSURL == "" {
		return fmt.Errorf("auth requires secret or jwks_url when enabled")
	}
	if c.Secret != "" && c.JWKSURL != "" {
		return fmt.Errorf("auth accepts secret or jwks_url, not both")
	}
	if c.JWKSURL != "" && c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh_interval must be at least 1 minute")
	}
	return nil
}

// IsEnabled reports whether authentication is configured and on.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && (c.Secret != "" || c.JWKSURL != "")
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled exposes a Prometheus /metrics endpoint.
	// Default: false
	MetricsEnabled bool `yaml:"metrics_enabled,omitempty"`

	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	// Enabled turns on distributed tracing. Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the span exporter: "otlp" or "stdout".
	// Default: otlp
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: localhost:4317
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces sampled, 0.0 to 1.0.
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces.
	// Default: tau2-agent
	ServiceName string `yaml:"service_name,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	c.Tracing.SetDefaults()
}

func (c *ObservabilityConfig) Validate() error {
	return c.Tracing.Validate()
}

func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "tau2-agent"
	}
}

func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "", "otlp", "stdout":
	default:
		return fmt.Errorf("unsupported exporter: %s (valid: otlp, stdout)", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0.0 and 1.0")
	}
	return nil
}

// LoggingConfig configures the process logger.
//
// Priority order (highest to lowest): CLI flags, environment variables
// (LOG_LEVEL, LOG_FORMAT, LOG_FILE), this section, defaults.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Default: text
	Format string `yaml:"format,omitempty"`

	// File receives log output when set; stderr otherwise.
	File string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: text, json)", c.Format)
	}
	return nil
}
