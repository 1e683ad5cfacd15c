// Package llms provides the chat-completion providers behind the user
// simulator and the serving agent's controller loop. Every provider
// implements the same Generate contract: a transcript and optional tool
// definitions in, assistant text or tool calls plus a token count out.
package llms

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/registry"
)

// Provider types accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Transcript roles on the completion wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Defaults applied by Config.SetDefaults.
const (
	DefaultOpenAIHost  = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-4o"
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTimeout     = 60
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2
)

// Message is one turn of a completion transcript.
type Message struct {
	Role    string
	Content string

	// ToolCalls carries the calls requested by an assistant turn.
	ToolCalls []chat.ToolCall

	// ToolCallID and Name identify the call a tool-result turn answers.
	ToolCallID string
	Name       string
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Provider is a chat-completion backend. Generate returns the assistant
// text, any tool calls it requested, and the total tokens the exchange
// consumed.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []chat.ToolCall, int, error)
	GetModelName() string
	Close() error
}

// Config selects and tunes a provider.
type Config struct {
	// Provider is the backend type, "openai" or "gemini".
	Provider string

	// Model is the model identifier, e.g. "gpt-4o".
	Model string

	// APIKey authenticates against the backend. Falls back to the
	// provider's conventional environment variable when unset.
	APIKey string

	// Host is the API base URL for OpenAI-compatible backends.
	Host string

	// Temperature is the sampling temperature, defaulted when nil.
	Temperature *float64

	// MaxTokens caps the generated response length.
	MaxTokens int

	// Timeout is the per-request deadline in seconds.
	Timeout int

	// MaxRetries and RetryDelay shape the HTTP retry loop. RetryDelay is
	// the base backoff in seconds.
	MaxRetries int
	RetryDelay int
}

// SetDefaults fills unset fields with the provider's defaults.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = InferProvider(c.Model)
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.Host == "" {
			c.Host = DefaultOpenAIHost
		}
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}
	case ProviderGemini:
		if c.Model == "" {
			c.Model = DefaultGeminiModel
		}
	}

	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Provider)
	}

	if c.Temperature == nil {
		temp := DefaultTemperature
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported LLM type: %s", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

// New builds a provider from cfg, applying defaults first.
func New(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s", cfg.Provider)
	}
}

// InferProvider maps a bare model name to a provider type. Run requests
// name the user simulator by model alone; gemini models route to the
// Gemini backend and everything else to the OpenAI-compatible one.
func InferProvider(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "gemini") {
		return ProviderGemini
	}
	return ProviderOpenAI
}

// apiKeyFromEnv returns the conventional API key variable for a provider.
func apiKeyFromEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// Registry holds constructed providers keyed by configuration name.
type Registry struct {
	*registry.Registry[Provider]
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{registry.New[Provider]()}
}

// CreateProvider builds a provider from cfg and registers it under name.
func (r *Registry) CreateProvider(name string, cfg Config) (Provider, error) {
	provider, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider '%s': %w", name, err)
	}
	if err := r.Register(name, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetProvider looks up a registered provider by name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	provider, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}
