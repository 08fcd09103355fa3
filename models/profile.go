package models

import "fmt"

// RequestShape selects how a model's request is built on the wire.
type RequestShape string

const (
	// ShapePrompt sends a single flattened text prompt (text-generation
	// endpoints such as the Hugging Face Inference API).
	ShapePrompt RequestShape = "prompt"
	// ShapeChat sends a multi-turn chat message array (OpenAI-compatible
	// chat completion endpoints).
	ShapeChat RequestShape = "chat"
)

// Profile holds the generation parameters for one model.
type Profile struct {
	MaxTokens         int          `yaml:"max_tokens" json:"max_tokens"`
	Temperature       float64      `yaml:"temperature" json:"temperature"`
	RepetitionPenalty float64      `yaml:"repetition_penalty" json:"repetition_penalty"`
	Shape             RequestShape `yaml:"shape" json:"shape"`
}

// DefaultProfile is applied to any model with no profile entry. The values
// match the original deployment's single dialogue model.
var DefaultProfile = Profile{
	MaxTokens:         300,
	Temperature:       0.8,
	RepetitionPenalty: 1.1,
	Shape:             ShapeChat,
}

// Validate reports profile values a provider could not use.
func (p Profile) Validate() error {
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", p.MaxTokens)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %g", p.Temperature)
	}
	if p.RepetitionPenalty < 0 {
		return fmt.Errorf("repetition_penalty must not be negative, got %g", p.RepetitionPenalty)
	}
	switch p.Shape {
	case ShapePrompt, ShapeChat:
	default:
		return fmt.Errorf("unknown request shape %q", p.Shape)
	}
	return nil
}

// ProfileRegistry maps model identifiers to generation profiles.
type ProfileRegistry struct {
	profiles map[string]Profile
}

// NewProfileRegistry creates an empty registry.
func NewProfileRegistry() *ProfileRegistry {
	return &ProfileRegistry{profiles: make(map[string]Profile)}
}

// Register adds or replaces the profile for a model.
func (r *ProfileRegistry) Register(modelID string, p Profile) {
	r.profiles[modelID] = p
}

// Lookup returns the profile for a model and whether one was registered.
func (r *ProfileRegistry) Lookup(modelID string) (Profile, bool) {
	p, ok := r.profiles[modelID]
	return p, ok
}

// Resolve returns the model's profile, falling back to DefaultProfile when
// the model has no entry. Generation never fails for missing configuration.
func (r *ProfileRegistry) Resolve(modelID string) Profile {
	if p, ok := r.profiles[modelID]; ok {
		return p
	}
	return DefaultProfile
}
