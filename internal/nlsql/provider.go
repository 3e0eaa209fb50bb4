package nlsql

import (
	"context"
	"fmt"

	"github.com/insano70/bcos-sub018/internal/config"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeAzure  ProviderType = "azure"
	ProviderTypeOllama ProviderType = "ollama"
)

// Role represents the role of a message in a conversation
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a message in a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the LLM provider
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// UsageStats represents token usage statistics
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a completion from the LLM provider
type ChatResponse struct {
	Model   string      `json:"model"`
	Content string      `json:"content"`
	Usage   *UsageStats `json:"usage,omitempty"`
}

// Provider defines the interface for LLM providers. The generator
// treats every provider failure uniformly; no provider grants any
// privilege over the SQL it emits.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Type returns the provider type
	Type() ProviderType

	// Chat sends a chat request and waits for the completion
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ValidateConfig validates the provider configuration
	ValidateConfig() error

	// Close cleans up any resources
	Close() error
}

// NewProvider creates an LLM provider from configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderTypeOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai: api_key is required")
		}
		return newOpenAIProvider(cfg), nil
	case ProviderTypeAzure:
		if cfg.AzureAPIKey == "" {
			return nil, fmt.Errorf("azure: api_key is required")
		}
		if cfg.AzureEndpoint == "" {
			return nil, fmt.Errorf("azure: endpoint is required")
		}
		if cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("azure: deployment is required")
		}
		return newAzureProvider(cfg), nil
	case ProviderTypeOllama:
		if cfg.Model == "" {
			return nil, fmt.Errorf("ollama: model is required")
		}
		return newOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
