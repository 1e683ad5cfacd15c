package llms

import (
	"strings"
	"testing"
)

func TestConfigSetDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")
	t.Setenv("GOOGLE_API_KEY", "")

	t.Run("empty config becomes openai", func(t *testing.T) {
		cfg := Config{}
		cfg.SetDefaults()

		if cfg.Provider != ProviderOpenAI {
			t.Errorf("Provider = %q, want openai", cfg.Provider)
		}
		if cfg.Model != DefaultOpenAIModel {
			t.Errorf("Model = %q, want %q", cfg.Model, DefaultOpenAIModel)
		}
		if cfg.Host != DefaultOpenAIHost {
			t.Errorf("Host = %q, want %q", cfg.Host, DefaultOpenAIHost)
		}
		if cfg.APIKey != "env-openai-key" {
			t.Errorf("APIKey = %q, want env fallback", cfg.APIKey)
		}
		if cfg.Temperature == nil || *cfg.Temperature != DefaultTemperature {
			t.Errorf("Temperature = %v, want %v", cfg.Temperature, DefaultTemperature)
		}
		if cfg.MaxTokens != DefaultMaxTokens {
			t.Errorf("MaxTokens = %d, want %d", cfg.MaxTokens, DefaultMaxTokens)
		}
		if cfg.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %d, want %d", cfg.Timeout, DefaultTimeout)
		}
		if cfg.MaxRetries != DefaultMaxRetries {
			t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, DefaultMaxRetries)
		}
		if cfg.RetryDelay != DefaultRetryDelay {
			t.Errorf("RetryDelay = %d, want %d", cfg.RetryDelay, DefaultRetryDelay)
		}
	})

	t.Run("provider inferred from model name", func(t *testing.T) {
		cfg := Config{Model: "gemini-2.0-flash"}
		cfg.SetDefaults()

		if cfg.Provider != ProviderGemini {
			t.Errorf("Provider = %q, want gemini", cfg.Provider)
		}
		if cfg.Host != "" {
			t.Errorf("Host = %q, want empty for gemini", cfg.Host)
		}
		if cfg.APIKey != "env-gemini-key" {
			t.Errorf("APIKey = %q, want gemini env fallback", cfg.APIKey)
		}
	})

	t.Run("gemini model default", func(t *testing.T) {
		cfg := Config{Provider: ProviderGemini}
		cfg.SetDefaults()

		if cfg.Model != DefaultGeminiModel {
			t.Errorf("Model = %q, want %q", cfg.Model, DefaultGeminiModel)
		}
	})

	t.Run("explicit values preserved", func(t *testing.T) {
		temp := 0.2
		cfg := Config{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			APIKey:      "explicit-key",
			Host:        "http://localhost:8080/v1",
			Temperature: &temp,
			MaxTokens:   256,
			Timeout:     10,
			MaxRetries:  1,
			RetryDelay:  1,
		}
		cfg.SetDefaults()

		if cfg.Model != "gpt-4o-mini" || cfg.APIKey != "explicit-key" || cfg.Host != "http://localhost:8080/v1" {
			t.Errorf("explicit fields were overwritten: %+v", cfg)
		}
		if *cfg.Temperature != 0.2 || cfg.MaxTokens != 256 || cfg.Timeout != 10 || cfg.MaxRetries != 1 || cfg.RetryDelay != 1 {
			t.Errorf("explicit tuning was overwritten: %+v", cfg)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	badTemp := 3.5

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid openai",
			cfg:  Config{Provider: ProviderOpenAI, Model: "gpt-4o"},
		},
		{
			name:    "unsupported provider",
			cfg:     Config{Provider: "watsonx", Model: "m"},
			wantErr: "unsupported LLM type: watsonx",
		},
		{
			name:    "missing model",
			cfg:     Config{Provider: ProviderOpenAI},
			wantErr: "model is required",
		},
		{
			name:    "temperature out of range",
			cfg:     Config{Provider: ProviderOpenAI, Model: "gpt-4o", Temperature: &badTemp},
			wantErr: "temperature must be between 0 and 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewFactory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	t.Run("openai", func(t *testing.T) {
		provider, err := New(Config{Provider: ProviderOpenAI})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := provider.(*OpenAIProvider); !ok {
			t.Fatalf("New() returned %T, want *OpenAIProvider", provider)
		}
		if provider.GetModelName() != DefaultOpenAIModel {
			t.Errorf("GetModelName() = %q, want %q", provider.GetModelName(), DefaultOpenAIModel)
		}
	})

	t.Run("gemini", func(t *testing.T) {
		provider, err := New(Config{Provider: ProviderGemini, APIKey: "fake-key"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := provider.(*GeminiProvider); !ok {
			t.Fatalf("New() returned %T, want *GeminiProvider", provider)
		}
		if provider.GetModelName() != DefaultGeminiModel {
			t.Errorf("GetModelName() = %q, want %q", provider.GetModelName(), DefaultGeminiModel)
		}
	})

	t.Run("gemini without key", func(t *testing.T) {
		_, err := New(Config{Provider: ProviderGemini})
		if err == nil || !strings.Contains(err.Error(), "API key is required") {
			t.Errorf("New() error = %v, want API key message", err)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := New(Config{Provider: "watsonx", Model: "m"})
		if err == nil || !strings.Contains(err.Error(), "unsupported LLM type") {
			t.Errorf("New() error = %v, want unsupported type", err)
		}
	})
}

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.0-flash", ProviderGemini},
		{"Gemini-1.5-Pro", ProviderGemini},
		{"", ProviderOpenAI},
	}

	for _, tt := range tests {
		if got := InferProvider(tt.model); got != tt.want {
			t.Errorf("InferProvider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	reg := NewRegistry()

	provider, err := reg.CreateProvider("user-sim", Config{Provider: ProviderOpenAI})
	if err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}

	got, err := reg.GetProvider("user-sim")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got != provider {
		t.Error("GetProvider() returned a different provider")
	}

	if _, err := reg.GetProvider("missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("GetProvider(missing) error = %v, want not found", err)
	}

	if _, err := reg.CreateProvider("user-sim", Config{Provider: ProviderOpenAI}); err == nil {
		t.Error("CreateProvider() should reject duplicate names")
	}

	if _, err := reg.CreateProvider("bad", Config{Provider: "watsonx", Model: "m"}); err == nil || !strings.Contains(err.Error(), "unsupported LLM type") {
		t.Errorf("CreateProvider(bad) error = %v, want unsupported type", err)
	}
}
