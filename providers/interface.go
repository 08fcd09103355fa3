package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"charla/models"
)

// ErrUnexpectedShape is wrapped by TranslateResponse when the provider body
// does not carry the expected response structure.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// ErrStreamingUnsupported is returned by Stream on providers that only
// support complete responses.
var ErrStreamingUnsupported = errors.New("streaming not supported by provider")

// Provider interface for all inference providers. Each implementation owns
// one wire shape: building the outgoing request, executing it, and
// normalizing the response body back to plain text.
type Provider interface {
	// Translate request to provider format
	TranslateRequest(ctx context.Context, req *UnifiedRequest, deployment *models.Deployment) (*ProviderRequest, error)

	// Execute request
	Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// Translate response to unified format
	TranslateResponse(ctx context.Context, resp *ProviderResponse, deployment *models.Deployment) (*UnifiedResponse, error)

	// Stream response
	Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error

	// Validate deployment configuration
	ValidateConfig(deployment *models.Deployment) error

	// Health check
	HealthCheck(ctx context.Context, deployment *models.Deployment) error

	// Get provider info
	GetInfo() ProviderInfo
}

// UnifiedRequest is the standard request format.
type UnifiedRequest struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	RepetitionPenalty float64   `json:"repetition_penalty,omitempty"`
	Stream            bool      `json:"stream,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnifiedResponse is the normalized result of a provider call: plain
// assistant text regardless of the provider's wire shape.
type UnifiedResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ProviderRequest is the request to send to the provider.
type ProviderRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
	Timeout time.Duration
}

// ProviderResponse is the raw response from the provider.
type ProviderResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       json.RawMessage
}

// StreamChunk represents a streaming response chunk.
type StreamChunk struct {
	Data  string
	Error error
	Done  bool
}

// ProviderInfo contains provider metadata.
type ProviderInfo struct {
	Name           string
	Version        string
	SupportsStream bool
	RequiresAuth   bool
}
