// Package config reads gateway settings from the environment.
package config

import (
	"os"
	"strings"
)

// Config is the gateway's runtime configuration. All values come from
// environment variables; missing ones fall back to local-development defaults.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string
	// PublicBaseURL is the externally visible base URL used in payment
	// challenges. Empty means derive from each inbound request.
	PublicBaseURL string
	// FacilitatorURL is the payment facilitator endpoint.
	FacilitatorURL string
	// CDPAPIKey and CDPAPIKeySecret authenticate against the hosted Coinbase
	// facilitator. Empty means unauthenticated facilitator calls.
	CDPAPIKey       string
	CDPAPIKeySecret string
	// Network is the settlement network challenges are issued for.
	Network string
	// DataDir is the embedded database directory.
	DataDir string
	// ResourceSeed is an optional JSON file of resources loaded at startup.
	ResourceSeed string
}

// FromEnv builds the configuration from environment variables.
func FromEnv() *Config {
	return &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		PublicBaseURL:   envOr("PUBLIC_BASE_URL", ""),
		FacilitatorURL:  envOr("FACILITATOR_URL", "https://x402.org/facilitator"),
		CDPAPIKey:       envOr("CDP_API_KEY", ""),
		CDPAPIKeySecret: envOr("CDP_API_KEY_SECRET", ""),
		Network:         envOr("NETWORK", "base-sepolia"),
		DataDir:         envOr("DATA_DIR", "./data"),
		ResourceSeed:    envOr("RESOURCE_SEED", ""),
	}
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
