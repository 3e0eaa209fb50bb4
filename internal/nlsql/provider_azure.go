package nlsql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/insano70/bcos-sub018/internal/config"
)

// azureProvider implements the Provider interface for Azure OpenAI.
// Azure shares the OpenAI wire format but addresses deployments and
// authenticates with an api-key header.
type azureProvider struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	httpClient *http.Client
}

func newAzureProvider(cfg config.LLMConfig) *azureProvider {
	return &azureProvider{
		apiKey:     cfg.AzureAPIKey,
		endpoint:   strings.TrimSuffix(cfg.AzureEndpoint, "/"),
		deployment: cfg.AzureDeployment,
		apiVersion: cfg.AzureAPIVersion,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider name
func (p *azureProvider) Name() string {
	return "azure"
}

// Type returns the provider type
func (p *azureProvider) Type() ProviderType {
	return ProviderTypeAzure
}

// ValidateConfig validates the provider configuration
func (p *azureProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return fmt.Errorf("azure: api_key is required")
	}
	if p.endpoint == "" {
		return fmt.Errorf("azure: endpoint is required")
	}
	if p.deployment == "" {
		return fmt.Errorf("azure: deployment is required")
	}
	return nil
}

// Close cleans up resources
func (p *azureProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Chat sends a chat request to Azure OpenAI and waits for the completion
func (p *azureProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages := make([]openAIMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openAIMessage{Role: string(msg.Role), Content: msg.Content}
	}

	body, err := json.Marshal(openAIRequest{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, p.deployment, p.apiVersion)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var azureResp openAIResponse
	if err := json.Unmarshal(respBody, &azureResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if azureResp.Error != nil {
		return nil, fmt.Errorf("azure error: %s (type: %s, code: %s)",
			azureResp.Error.Message, azureResp.Error.Type, azureResp.Error.Code)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure returned status %d", resp.StatusCode)
	}

	if len(azureResp.Choices) == 0 {
		return nil, fmt.Errorf("azure returned no choices")
	}

	out := &ChatResponse{
		Model:   azureResp.Model,
		Content: azureResp.Choices[0].Message.Content,
	}
	if azureResp.Usage != nil {
		out.Usage = &UsageStats{
			PromptTokens:     azureResp.Usage.PromptTokens,
			CompletionTokens: azureResp.Usage.CompletionTokens,
			TotalTokens:      azureResp.Usage.TotalTokens,
		}
	}
	return out, nil
}
