package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"charla/models"
)

// Default identifiers used when no configuration directory is present. The
// model matches the original deployment's free dialogue model.
const (
	DefaultModelID      = "OpenAssistant/oasst-sft-4-pythia-12b-epoch-3.5"
	defaultDeploymentID = "hf-default"
)

// Config represents the complete configuration.
type Config struct {
	DefaultModel string                      `yaml:"default_model"`
	Profiles     map[string]models.Profile   `yaml:"models"`
	Deployments  map[string]DeploymentConfig `yaml:"deployments"`
}

// DeploymentConfig from YAML.
type DeploymentConfig struct {
	ModelID         string         `yaml:"model_id"`
	Provider        string         `yaml:"provider"`
	ProviderModelID string         `yaml:"provider_model_id"`
	Endpoint        EndpointConfig `yaml:"endpoint"`
}

// EndpointConfig from YAML.
type EndpointConfig struct {
	BaseURL      string     `yaml:"base_url"`
	Timeout      string     `yaml:"timeout"`
	MaxRetries   *int       `yaml:"max_retries"` // pointer so zero retries is expressible
	RetryBackoff string     `yaml:"retry_backoff"`
	Auth         AuthConfig `yaml:"auth"`
}

// AuthConfig from YAML. APIKeyEnv names the environment variable holding the
// bearer token; the token itself never appears in configuration files.
type AuthConfig struct {
	Type      string `yaml:"type"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Load reads models.yaml and providers.yaml from configDir. A missing
// directory or missing files fall back to the built-in defaults; a file
// that exists but cannot be parsed is a startup error.
func Load(configDir string) (*Config, error) {
	config := Default()

	modelsPath := filepath.Join(configDir, "models.yaml")
	if err := loadYAMLFile(modelsPath, config); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load models.yaml: %w", err)
		}
		log.Printf("[CONFIG] No models.yaml in %s, using built-in profiles", configDir)
	}

	providersPath := filepath.Join(configDir, "providers.yaml")
	var deploymentsWrapper struct {
		Deployments map[string]DeploymentConfig `yaml:"deployments"`
	}
	if err := loadYAMLFile(providersPath, &deploymentsWrapper); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load providers.yaml: %w", err)
		}
		log.Printf("[CONFIG] No providers.yaml in %s, using built-in deployment", configDir)
	} else if len(deploymentsWrapper.Deployments) > 0 {
		config.Deployments = deploymentsWrapper.Deployments
	}

	expandEnvVars(config)
	return config, nil
}

// Default returns the built-in configuration: the original free Hugging Face
// dialogue model behind the text-generation provider.
func Default() *Config {
	return &Config{
		DefaultModel: DefaultModelID,
		Profiles: map[string]models.Profile{
			DefaultModelID: {
				MaxTokens:         300,
				Temperature:       0.8,
				RepetitionPenalty: 1.1,
				Shape:             models.ShapePrompt,
			},
		},
		Deployments: map[string]DeploymentConfig{
			defaultDeploymentID: {
				ModelID:         DefaultModelID,
				Provider:        string(models.ProviderHFTextGen),
				ProviderModelID: DefaultModelID,
				Endpoint: EndpointConfig{
					Timeout:      "25s",
					RetryBackoff: "30s",
					Auth: AuthConfig{
						Type:      string(models.AuthAPIKey),
						APIKeyEnv: "HF_TOKEN",
					},
				},
			},
		},
	}
}

// loadYAMLFile loads a YAML file into a structure.
func loadYAMLFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// expandEnvVars expands environment variables in configuration.
func expandEnvVars(config *Config) {
	for id, deployment := range config.Deployments {
		deployment.Endpoint.BaseURL = expandEnv(deployment.Endpoint.BaseURL)
		config.Deployments[id] = deployment
	}
}

// expandEnv expands ${VAR} and ${VAR:-default} references in a string.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":-", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			return parts[1]
		}
		return value
	})
}

// defaultKeyEnv maps each provider type to the conventional token variable
// consulted when a deployment names none.
func defaultKeyEnv(provider models.ProviderType) string {
	switch provider {
	case models.ProviderHFTextGen:
		return "HF_TOKEN"
	case models.ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Build validates the configuration and assembles the profile and deployment
// registries. Profile validation happens here, at startup, so a broken entry
// fails loudly instead of defaulting silently deep in the call path.
func (c *Config) Build() (*models.ProfileRegistry, *models.DeploymentRegistry, error) {
	profileRegistry := models.NewProfileRegistry()
	for id, profile := range c.Profiles {
		if err := profile.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid profile for model %q: %w", id, err)
		}
		profileRegistry.Register(id, profile)
	}

	if len(c.Deployments) == 0 {
		return nil, nil, fmt.Errorf("no deployments configured")
	}

	// Register in sorted order so the registry listing, and therefore the
	// fallback pick when a model has several deployments, is stable across
	// runs.
	ids := make([]string, 0, len(c.Deployments))
	for id := range c.Deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deploymentRegistry := models.NewDeploymentRegistry()
	for _, id := range ids {
		dc := c.Deployments[id]
		providerType := models.ProviderType(dc.Provider)
		switch providerType {
		case models.ProviderHFTextGen, models.ProviderDeepSeek, models.ProviderBaselineOpenAI:
		default:
			return nil, nil, fmt.Errorf("deployment %q: unknown provider %q", id, dc.Provider)
		}

		// A profile's request shape must agree with the provider serving
		// the model, or requests would be built for the wrong wire format.
		if profile, ok := profileRegistry.Lookup(dc.ModelID); ok {
			if want := models.ShapeFor(providerType); profile.Shape != want {
				return nil, nil, fmt.Errorf("deployment %q: model %q declares shape %q but provider %q speaks %q",
					id, dc.ModelID, profile.Shape, dc.Provider, want)
			}
		}

		timeout, err := parseDurationDefault(dc.Endpoint.Timeout, 25*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("deployment %q: bad timeout: %w", id, err)
		}
		backoff, err := parseDurationDefault(dc.Endpoint.RetryBackoff, 30*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("deployment %q: bad retry_backoff: %w", id, err)
		}

		maxRetries := 2
		if dc.Endpoint.MaxRetries != nil {
			if *dc.Endpoint.MaxRetries < 0 {
				return nil, nil, fmt.Errorf("deployment %q: max_retries must not be negative", id)
			}
			maxRetries = *dc.Endpoint.MaxRetries
		}

		authType := models.AuthAPIKey
		if dc.Endpoint.Auth.Type == string(models.AuthNone) {
			authType = models.AuthNone
		}

		apiKey := ""
		if authType == models.AuthAPIKey {
			keyEnv := dc.Endpoint.Auth.APIKeyEnv
			if keyEnv == "" {
				keyEnv = defaultKeyEnv(providerType)
			}
			apiKey = os.Getenv(keyEnv)
			if apiKey == "" {
				log.Printf("[CONFIG] Deployment %q: no token in $%s", id, keyEnv)
			}
		}

		deploymentRegistry.Register(&models.Deployment{
			ID:              id,
			ModelID:         dc.ModelID,
			Provider:        providerType,
			ProviderModelID: dc.ProviderModelID,
			Endpoint: models.EndpointConfig{
				BaseURL:      dc.Endpoint.BaseURL,
				Timeout:      timeout,
				MaxRetries:   maxRetries,
				RetryBackoff: backoff,
				Auth: models.AuthConfig{
					Type:   authType,
					APIKey: apiKey,
				},
			},
		})
	}

	if _, ok := deploymentRegistry.GetByModel(c.DefaultModel); !ok {
		log.Printf("[CONFIG] No deployment serves default model %q; first deployment will be used", c.DefaultModel)
	}

	return profileRegistry, deploymentRegistry, nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
