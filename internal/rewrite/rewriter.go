// Package rewrite injects bring-your-own model configuration into
// outbound agent configuration requests before they reach the upstream
// service. Everything else passes through untouched.
package rewrite

import (
	"encoding/json"
	"strings"
)

// ExternalModelConfig is a caller-supplied language model substituted
// for the upstream's built-in reasoning engine.
type ExternalModelConfig struct {
	Provider string
	APIKey   string
	Model    string
}

// Enabled reports whether injection should happen at all. Both the
// provider and the key must be present.
func (c *ExternalModelConfig) Enabled() bool {
	return c != nil && c.Provider != "" && c.APIKey != ""
}

// defaultModels maps a provider to the model used when the caller does
// not name one explicitly.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"google":    "gemini-2.0-flash",
	"groq":      "llama-3.3-70b-versatile",
}

// DefaultModel returns the documented default model for a provider, or
// "" when the provider has none.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(provider)]
}

// Rewrite merges a think configuration block into an outbound agent
// configuration request. It returns the input unchanged unless the
// config is enabled, the message parses as JSON, and its type
// discriminator is "agent-request" (case-insensitive). Parse failures
// pass the original bytes through; the relay must never stall on
// malformed client input.
func Rewrite(message []byte, cfg *ExternalModelConfig) []byte {
	if !cfg.Enabled() {
		return message
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(message, &obj); err != nil {
		return message
	}

	msgType, _ := obj["type"].(string)
	if !strings.EqualFold(msgType, "agent-request") {
		return message
	}

	agent, _ := obj["agent"].(map[string]interface{})
	if agent == nil {
		agent = map[string]interface{}{}
		obj["agent"] = agent
	}

	provider := map[string]interface{}{"type": cfg.Provider}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}
	if model != "" {
		provider["model"] = model
	}

	agent["think"] = map[string]interface{}{
		"provider": provider,
		"auth": map[string]interface{}{
			"type":  "api_key",
			"value": cfg.APIKey,
		},
	}

	rewritten, err := json.Marshal(obj)
	if err != nil {
		return message
	}
	return rewritten
}
