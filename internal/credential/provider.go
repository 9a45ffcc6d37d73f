// Package credential mints short-lived upstream access credentials.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Credential is an opaque bearer token for the upstream agent service.
// It is scoped for a single session and must never be cached.
type Credential struct {
	Key       string `json:"key"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	URL       string `json:"url"`
}

// GrantError is returned when the upstream account service refuses or
// fails to mint a token.
type GrantError struct {
	Detail string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("upstream token grant failed: %s", e.Detail)
}

// Provider obtains upstream credentials for end-user identities. It is
// stateless per request.
type Provider struct {
	apiKey   string
	grantURL string
	agentURL string
	devMode  bool
	client   *http.Client
	logger   *zap.Logger
}

// NewProvider creates a credential provider. In dev mode Obtain returns
// the static configured key without contacting the account service.
func NewProvider(apiKey, grantURL, agentURL string, devMode bool, logger *zap.Logger) *Provider {
	return &Provider{
		apiKey:   apiKey,
		grantURL: grantURL,
		agentURL: agentURL,
		devMode:  devMode,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type grantRequest struct {
	Scope      string `json:"scope"`
	TTLSeconds int    `json:"ttl_seconds"`
	Identity   string `json:"identity,omitempty"`
}

type grantResponse struct {
	AccessToken string `json:"access_token"`
	Key         string `json:"key"`
	ExpiresIn   int    `json:"expires_in"`
	Message     string `json:"message"`
}

// Obtain mints a credential for the given identity. Every invocation
// hits the account service; grant tokens are single-use-scoped so
// responses are never reused.
func (p *Provider) Obtain(ctx context.Context, identity string) (*Credential, error) {
	if p.devMode {
		p.logger.Debug("Dev mode: returning static upstream key")
		return &Credential{Key: p.apiKey, URL: p.agentURL}, nil
	}

	body, err := json.Marshal(grantRequest{
		Scope:      "agent",
		TTLSeconds: 30,
		Identity:   identity,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.grantURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &GrantError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GrantError{Detail: err.Error()}
	}

	var grant grantResponse
	if err := json.Unmarshal(raw, &grant); err != nil {
		return nil, &GrantError{Detail: fmt.Sprintf("unparseable grant response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		detail := grant.Message
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &GrantError{Detail: detail}
	}

	key := grant.AccessToken
	if key == "" {
		key = grant.Key
	}
	if key == "" {
		return nil, &GrantError{Detail: "grant response carried no token"}
	}

	p.logger.Info("Minted upstream credential",
		zap.String("identity", identity),
		zap.Int("expires_in", grant.ExpiresIn))

	return &Credential{
		Key:       key,
		ExpiresIn: grant.ExpiresIn,
		URL:       p.agentURL,
	}, nil
}
