package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Upstream speech-agent service
	UpstreamAPIKey   string `env:"SWARA_UPSTREAM_API_KEY"`
	UpstreamAgentURL string `env:"SWARA_UPSTREAM_AGENT_URL" envDefault:"wss://agent.voiceapi.dev/v1/agent/converse"`
	UpstreamGrantURL string `env:"SWARA_UPSTREAM_GRANT_URL" envDefault:"https://api.voiceapi.dev/v1/auth/grant"`

	// Development mode short-circuits token minting to the static key.
	DevMode bool `env:"SWARA_DEV_MODE" envDefault:"false"`

	JWTSecret    string `env:"SWARA_JWT_SECRET" envDefault:"your-secret-key"`
	ClientID     string `env:"SWARA_CLIENT_ID"`
	ClientSecret string `env:"SWARA_CLIENT_SECRET"`

	// Optional bring-your-own model configuration injected into
	// outbound agent configuration requests.
	ExternalModelProvider string `env:"SWARA_BYO_PROVIDER"`
	ExternalModelAPIKey   string `env:"SWARA_BYO_API_KEY"`
	ExternalModel         string `env:"SWARA_BYO_MODEL"`
}

// ErrMissingUpstreamKey is returned when no upstream API key is configured.
var ErrMissingUpstreamKey = errors.New("upstream API key is not configured")

// Load parses configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasUpstreamKey reports whether an upstream credential is configured.
// Session establishment must fail before any socket opens when this is false.
func (c *Config) HasUpstreamKey() bool {
	return c.UpstreamAPIKey != ""
}
