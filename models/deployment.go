package models

import (
	"time"
)

// Deployment binds a model identifier to a concrete provider endpoint.
type Deployment struct {
	ID      string `json:"id" yaml:"id"`
	ModelID string `json:"model_id" yaml:"model_id"`

	Provider ProviderType `json:"provider" yaml:"provider"`
	// ProviderModelID is the model name the provider itself expects, which
	// may differ from ModelID (e.g. an org-prefixed Hugging Face repo id).
	ProviderModelID string `json:"provider_model_id" yaml:"provider_model_id"`

	Endpoint EndpointConfig `json:"endpoint" yaml:"endpoint"`
}

// ProviderType names a supported provider implementation.
type ProviderType string

const (
	ProviderHFTextGen      ProviderType = "hf_textgen"
	ProviderDeepSeek       ProviderType = "deepseek"
	ProviderBaselineOpenAI ProviderType = "baseline_openai"
)

// ShapeFor reports the request shape a provider type speaks on the wire.
func ShapeFor(p ProviderType) RequestShape {
	if p == ProviderHFTextGen {
		return ShapePrompt
	}
	return ShapeChat
}

// EndpointConfig contains per-deployment connection settings.
type EndpointConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Retry policy for rate-limit responses. MaxRetries bounds the retries
	// after the initial attempt; RetryBackoff is the fixed wait between
	// attempts.
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	Auth AuthConfig `json:"auth" yaml:"auth"`
}

// AuthType defines authentication methods.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthNone   AuthType = "none"
)

// AuthConfig for endpoint authentication. The key itself is never
// serialized.
type AuthConfig struct {
	Type   AuthType `json:"type" yaml:"type"`
	APIKey string   `json:"-" yaml:"-"`
}

// DeploymentRegistry manages all deployments.
type DeploymentRegistry struct {
	deployments map[string]*Deployment
	order       []string
}

// NewDeploymentRegistry creates a new deployment registry.
func NewDeploymentRegistry() *DeploymentRegistry {
	return &DeploymentRegistry{deployments: make(map[string]*Deployment)}
}

// Register adds a deployment to the registry.
func (r *DeploymentRegistry) Register(deployment *Deployment) {
	if _, exists := r.deployments[deployment.ID]; !exists {
		r.order = append(r.order, deployment.ID)
	}
	r.deployments[deployment.ID] = deployment
}

// Get retrieves a deployment by ID.
func (r *DeploymentRegistry) Get(id string) (*Deployment, bool) {
	deployment, exists := r.deployments[id]
	return deployment, exists
}

// GetByModel returns the first registered deployment serving a model, or
// false if none does.
func (r *DeploymentRegistry) GetByModel(modelID string) (*Deployment, bool) {
	for _, id := range r.order {
		if d := r.deployments[id]; d.ModelID == modelID || d.ProviderModelID == modelID {
			return d, true
		}
	}
	return nil, false
}

// All returns the deployments in registration order.
func (r *DeploymentRegistry) All() []*Deployment {
	out := make([]*Deployment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.deployments[id])
	}
	return out
}
