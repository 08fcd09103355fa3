package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"charla/models"
)

const hfInferenceBaseURL = "https://api-inference.huggingface.co"

// HFTextGenProvider targets the Hugging Face Inference API text-generation
// task: a single flattened prompt in, a generated_text array (or a raw JSON
// string on some models) out.
type HFTextGenProvider struct {
	client *http.Client
}

// NewHFTextGenProvider creates a new Hugging Face text-generation provider.
func NewHFTextGenProvider() *HFTextGenProvider {
	// No client-level timeout: the per-request deadline from
	// ProviderRequest.Timeout governs.
	return &HFTextGenProvider{client: &http.Client{}}
}

// TranslateRequest converts the unified request to the Inference API format.
// The chat history is flattened into a single prompt because the endpoint
// has no native message-array form.
func (h *HFTextGenProvider) TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error) {
	parameters := map[string]interface{}{
		"max_new_tokens":   req.MaxTokens,
		"do_sample":        true,
		"return_full_text": false,
	}
	if req.Temperature > 0 {
		parameters["temperature"] = req.Temperature
	}
	if req.RepetitionPenalty > 0 {
		parameters["repetition_penalty"] = req.RepetitionPenalty
	}

	body := map[string]interface{}{
		"inputs":     FlattenMessages(req.Messages),
		"parameters": parameters,
		"options": map[string]interface{}{
			"wait_for_model": true,
		},
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if deployment.Endpoint.Auth.Type == models.AuthAPIKey && deployment.Endpoint.Auth.APIKey != "" {
		headers["Authorization"] = "Bearer " + deployment.Endpoint.Auth.APIKey
	}

	baseURL := deployment.Endpoint.BaseURL
	if baseURL == "" {
		baseURL = hfInferenceBaseURL
	}

	return &ProviderRequest{
		URL:     strings.TrimSuffix(baseURL, "/") + "/models/" + deployment.ProviderModelID,
		Method:  "POST",
		Headers: headers,
		Body:    body,
		Timeout: deployment.Endpoint.Timeout,
	}, nil
}

// Execute sends the request to the Inference API.
func (h *HFTextGenProvider) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	return execute(ctx, h.client, req)
}

// TranslateResponse normalizes the Inference API response. The task returns
// either [{"generated_text": "..."}] or, on some models, a bare JSON string;
// both normalize to trimmed plain text.
func (h *HFTextGenProvider) TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error) {
	var generated []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(resp.Body, &generated); err == nil {
		if len(generated) == 0 {
			return nil, fmt.Errorf("%w: empty generation array", ErrUnexpectedShape)
		}
		return &UnifiedResponse{
			Text:  strings.TrimSpace(generated[0].GeneratedText),
			Model: deployment.ProviderModelID,
		}, nil
	}

	var raw string
	if err := json.Unmarshal(resp.Body, &raw); err == nil {
		return &UnifiedResponse{
			Text:  strings.TrimSpace(raw),
			Model: deployment.ProviderModelID,
		}, nil
	}

	return nil, fmt.Errorf("%w: neither generation array nor raw string", ErrUnexpectedShape)
}

// Stream is not supported by the text-generation task endpoint.
func (h *HFTextGenProvider) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	close(stream)
	return ErrStreamingUnsupported
}

// ValidateConfig validates deployment configuration.
func (h *HFTextGenProvider) ValidateConfig(deployment *models.Deployment) error {
	if deployment.ProviderModelID == "" {
		return fmt.Errorf("provider model ID is required")
	}
	return nil
}

// HealthCheck issues a minimal generation against the deployment.
func (h *HFTextGenProvider) HealthCheck(ctx context.Context, deployment *models.Deployment) error {
	req := &UnifiedRequest{
		Model:     deployment.ProviderModelID,
		Messages:  []Message{{Role: "user", Content: "Hi"}},
		MaxTokens: 10,
	}
	providerReq, err := h.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return fmt.Errorf("health check translation failed: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := h.Execute(healthCtx, providerReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetInfo returns provider information.
func (h *HFTextGenProvider) GetInfo() ProviderInfo {
	return ProviderInfo{
		Name:           "Hugging Face Inference API",
		Version:        "1.0",
		SupportsStream: false,
		RequiresAuth:   true,
	}
}

// FlattenMessages renders a message array as a plain dialogue transcript for
// prompt-shaped endpoints, ending with the assistant cue.
func FlattenMessages(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant:")
	return b.String()
}
