package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"charla/models"
)

// DeepSeekProvider handles DeepSeek-compatible chat completion APIs. The
// deployment BaseURL is the API root; the chat completions path is appended
// here.
type DeepSeekProvider struct {
	client *http.Client
}

// NewDeepSeekProvider creates a new DeepSeek-compatible provider.
func NewDeepSeekProvider() *DeepSeekProvider {
	// No client-level timeout: the per-request deadline from
	// ProviderRequest.Timeout governs.
	return &DeepSeekProvider{client: &http.Client{}}
}

// TranslateRequest converts the unified request to chat completion format.
func (d *DeepSeekProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	return &ProviderRequest{
		URL:     strings.TrimSuffix(deployment.Endpoint.BaseURL, "/") + "/chat/completions",
		Method:  "POST",
		Headers: chatAuthHeaders(deployment),
		Body:    buildChatCompletionBody(req, deployment.ProviderModelID),
		Timeout: deployment.Endpoint.Timeout,
	}, nil
}

// Execute sends the request to the API.
func (d *DeepSeekProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	return execute(ctx, d.client, req)
}

// TranslateResponse extracts the first choice's message content.
func (d *DeepSeekProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	return decodeChatCompletion(resp.Body)
}

// Stream forwards SSE delta chunks.
func (d *DeepSeekProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	return streamSSE(ctx, d.client, req, stream)
}

// ValidateConfig validates deployment configuration.
func (d *DeepSeekProvider) ValidateConfig(deployment *models.Deployment) error {
	if deployment.Endpoint.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if deployment.ProviderModelID == "" {
		return fmt.Errorf("provider model ID is required")
	}
	if deployment.Endpoint.Auth.Type == models.AuthAPIKey && deployment.Endpoint.Auth.APIKey == "" {
		return fmt.Errorf("api_key auth configured but no key present")
	}
	return nil
}

// HealthCheck issues a minimal completion against the deployment.
func (d *DeepSeekProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
	req := &UnifiedRequest{
		Model:     deployment.ProviderModelID,
		Messages:  []Message{{Role: "user", Content: "Hi"}},
		MaxTokens: 10,
	}
	providerReq, err := d.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return fmt.Errorf("health check translation failed: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.Execute(healthCtx, providerReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetInfo returns provider information.
func (d *DeepSeekProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "DeepSeek Compatible",
		Version:        "1.0",
		SupportsStream: true,
		RequiresAuth:   true,
	}
}
