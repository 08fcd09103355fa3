package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"charla/models"
)

// BaselineOpenAIProvider handles direct OpenAI-compatible API calls. Unlike
// DeepSeekProvider, the deployment BaseURL is the COMPLETE endpoint and is
// used as-is: no path appending.
type BaselineOpenAIProvider struct {
	client *http.Client
}

// NewBaselineOpenAIProvider creates a new baseline provider.
func NewBaselineOpenAIProvider() *BaselineOpenAIProvider {
	// No client-level timeout: the per-request deadline from
	// ProviderRequest.Timeout governs.
	return &BaselineOpenAIProvider{client: &http.Client{}}
}

// TranslateRequest converts the unified request to chat completion format.
func (b *BaselineOpenAIProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	return &ProviderRequest{
		URL:     deployment.Endpoint.BaseURL, // already the complete endpoint
		Method:  "POST",
		Headers: chatAuthHeaders(deployment),
		Body:    buildChatCompletionBody(req, deployment.ProviderModelID),
		Timeout: deployment.Endpoint.Timeout,
	}, nil
}

// Execute sends the request to the API.
func (b *BaselineOpenAIProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	return execute(ctx, b.client, req)
}

// TranslateResponse extracts the first choice's message content.
func (b *BaselineOpenAIProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	return decodeChatCompletion(resp.Body)
}

// Stream forwards SSE delta chunks.
func (b *BaselineOpenAIProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	return streamSSE(ctx, b.client, req, stream)
}

// ValidateConfig validates deployment configuration. Baseline mode requires
// a complete endpoint URL, e.g. https://api.example.com/v1/chat/completions.
func (b *BaselineOpenAIProvider) ValidateConfig(deployment *models.Deployment) error {
	base := deployment.Endpoint.BaseURL
	if base == "" {
		return fmt.Errorf("base URL is required")
	}
	if !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://"), "/") {
		return fmt.Errorf("baseline mode requires the complete endpoint URL, got %q", base)
	}
	if deployment.ProviderModelID == "" {
		return fmt.Errorf("provider model ID is required")
	}
	return nil
}

// HealthCheck issues a minimal completion against the deployment.
func (b *BaselineOpenAIProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
	req := &UnifiedRequest{
		Model:     deployment.ProviderModelID,
		Messages:  []Message{{Role: "user", Content: "Hi"}},
		MaxTokens: 10,
	}
	providerReq, err := b.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return fmt.Errorf("health check translation failed: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := b.Execute(healthCtx, providerReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetInfo returns provider information.
func (b *BaselineOpenAIProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "Baseline OpenAI Compatibility",
		Version:        "1.0",
		SupportsStream: true,
		RequiresAuth:   false, // may work without auth for local models
	}
}
