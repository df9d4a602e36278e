package ai

import (
	"fmt"

	"github.com/hrygo/lumichat/internal/profile"
)

const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
)

type providerDefaults struct {
	baseURL string
	model   string
}

// Every provider is reached through its OpenAI-compatible endpoint.
var defaultsByProvider = map[string]providerDefaults{
	ProviderGemini:   {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai/", model: "gemini-2.5-flash"},
	ProviderOpenAI:   {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	ProviderDeepSeek: {baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"},
	ProviderOllama:   {baseURL: "http://localhost:11434/v1", model: "llama3.2"},
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // gemini, openai, deepseek, ollama
	Model       string // gemini-2.5-flash
	APIKey      string
	BaseURL     string
	MaxTokens   int     // 0 leaves the provider default
	Temperature float32 // default: 0.7
}

// ConfigError reports a missing or invalid LLM setting by the variable that controls it.
type ConfigError struct {
	Variable string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Variable, e.Reason)
}

// NewLLMConfigFromProfile creates the LLM config from profile, filling provider defaults.
func NewLLMConfigFromProfile(p *profile.Profile) *LLMConfig {
	cfg := &LLMConfig{
		Provider:    p.AIProvider,
		Model:       p.AIModel,
		APIKey:      p.AIAPIKey,
		BaseURL:     p.AIBaseURL,
		Temperature: 0.7,
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	if defaults, ok := defaultsByProvider[cfg.Provider]; ok {
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaults.baseURL
		}
		if cfg.Model == "" {
			cfg.Model = defaults.model
		}
	}
	return cfg
}

// Validate returns a *ConfigError when the LLM cannot be invoked.
func (c *LLMConfig) Validate() error {
	if _, ok := defaultsByProvider[c.Provider]; !ok {
		return &ConfigError{Variable: "LUMICHAT_AI_PROVIDER", Reason: fmt.Sprintf("unsupported LLM provider %q", c.Provider)}
	}
	if c.Provider != ProviderOllama && c.APIKey == "" {
		return &ConfigError{Variable: "LUMICHAT_AI_API_KEY", Reason: "LLM API key is not set (GOOGLE_GENERATIVE_AI_API_KEY is also accepted)"}
	}
	if c.Model == "" {
		return &ConfigError{Variable: "LUMICHAT_AI_MODEL", Reason: "LLM model is not set"}
	}
	return nil
}
