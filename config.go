package main

import (
	"log"
	"os"
)

// Port configuration based on environment
var (
	HTTP_PORT int
	DNS_PORT  int
)

var debugMode = os.Getenv("DEBUG") == "true"

func init() {
	// Check for high-port development mode
	if os.Getenv("HIGH_PORT_MODE") == "true" {
		log.Println("Running in HIGH_PORT_MODE - using non-privileged ports")
		HTTP_PORT = 8080 // Instead of 80
		DNS_PORT = 8053  // Instead of 53
	} else {
		// Production mode - standard ports
		HTTP_PORT = 80
		DNS_PORT = 53
	}
	if os.Getenv("DISABLE_DNS") == "true" {
		DNS_PORT = 0
	}

	log.Printf("Port configuration: HTTP=%d, DNS=%d", HTTP_PORT, DNS_PORT)
}

// envDefault reads an environment variable with a fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// storePath is the JSON document holding all chat sessions.
func storePath() string {
	return envDefault("CHARLA_DB", "chats_db.json")
}

// auditPath is the SQLite database for the generation audit trail.
func auditPath() string {
	return envDefault("CHARLA_AUDIT_DB", "generation_audit.db")
}

// configDir holds models.yaml and providers.yaml.
func configDir() string {
	return envDefault("CHARLA_CONFIG_DIR", "config")
}
