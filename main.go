package main

import (
	"context"
	"log"
	"os"
	"time"

	"charla/chat"
	"charla/config"
	"charla/models"
	"charla/providers"
	"charla/session"
)

func main() {
	cfg, err := config.Load(configDir())
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	profiles, deployments, err := cfg.Build()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	model := os.Getenv("CHARLA_MODEL")
	if model == "" {
		model = cfg.DefaultModel
	}

	providerMap := map[models.ProviderType]providers.Provider{
		models.ProviderHFTextGen:      providers.NewHFTextGenProvider(),
		models.ProviderDeepSeek:       providers.NewDeepSeekProvider(),
		models.ProviderBaselineOpenAI: providers.NewBaselineOpenAIProvider(),
	}

	for _, deployment := range deployments.All() {
		provider, ok := providerMap[deployment.Provider]
		if !ok {
			log.Fatalf("Deployment %s: no provider for type %q", deployment.ID, deployment.Provider)
		}
		if err := provider.ValidateConfig(deployment); err != nil {
			log.Fatalf("Deployment %s: %v", deployment.ID, err)
		}
		requireCredential(deployment)
	}

	if os.Getenv("CHECK_ON_STARTUP") == "true" {
		checkDeployments(deployments, providerMap)
	}

	store := session.NewStore(storePath())
	if err := store.Load(); err != nil {
		// The store substitutes an empty collection; the app stays usable.
		log.Printf("[STORE] Could not load sessions: %v", err)
	}

	audit, err := chat.OpenAudit(auditPath())
	if err != nil {
		log.Printf("[AUDIT] Audit trail unavailable: %v", err)
	}

	svc := chat.NewService(chat.ServiceConfig{
		Store:       store,
		Profiles:    profiles,
		Deployments: deployments,
		Providers:   providerMap,
		Model:       model,
		Audit:       audit,
	})

	if DNS_PORT > 0 {
		go func() {
			if err := StartDNSServer(DNS_PORT, svc); err != nil {
				log.Printf("[DNS] Server stopped: %v", err)
			}
		}()
	}

	if err := StartHTTPServer(HTTP_PORT, svc); err != nil {
		log.Fatalf("[HTTP] Server stopped: %v", err)
	}
}

// checkDeployments probes every deployment with a live health check. Failures
// are logged, not fatal: a model that is cold-loading would otherwise block
// startup.
func checkDeployments(deployments *models.DeploymentRegistry, providerMap map[models.ProviderType]providers.Provider) {
	for _, deployment := range deployments.All() {
		provider := providerMap[deployment.Provider]
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := provider.HealthCheck(ctx, deployment)
		cancel()
		if err != nil {
			log.Printf("[STARTUP] Deployment %s unhealthy: %v", deployment.ID, err)
		} else {
			log.Printf("[STARTUP] Deployment %s healthy", deployment.ID)
		}
	}
}

// requireCredential aborts startup with remediation instructions when a
// deployment needs a bearer token and none is present in the environment.
func requireCredential(deployment *models.Deployment) {
	if deployment.Endpoint.Auth.Type != models.AuthAPIKey {
		return
	}
	if deployment.Endpoint.Auth.APIKey != "" {
		return
	}

	hint := "Set the provider API token in the environment or a .env file."
	switch deployment.Provider {
	case models.ProviderHFTextGen:
		hint = "Set HF_TOKEN in the environment or a .env file.\n" +
			"Free tokens: https://huggingface.co/settings/tokens"
	case models.ProviderDeepSeek:
		hint = "Set DEEPSEEK_API_KEY in the environment or a .env file."
	case models.ProviderBaselineOpenAI:
		hint = "Set OPENAI_API_KEY in the environment or a .env file."
	}
	log.Fatalf("Deployment %s has no API token.\n%s", deployment.ID, hint)
}
