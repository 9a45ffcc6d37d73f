package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestObtainDevModeReturnsStaticKey(t *testing.T) {
	p := NewProvider("static-key", "http://unused", "wss://agent.example", true, zap.NewNop())

	cred, err := p.Obtain(context.Background(), "tester")
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}
	if cred.Key != "static-key" {
		t.Errorf("Expected static key, got %q", cred.Key)
	}
	if cred.URL != "wss://agent.example" {
		t.Errorf("Expected agent url, got %q", cred.URL)
	}
}

func TestObtainMintsScopedToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("grant request is not JSON: %v", err)
		}
		if req["scope"] != "agent" {
			t.Errorf("Expected agent scope, got %v", req["scope"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "scoped-token",
			"expires_in":   30,
		})
	}))
	defer server.Close()

	p := NewProvider("api-key", server.URL, "wss://agent.example", false, zap.NewNop())

	cred, err := p.Obtain(context.Background(), "tester")
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}
	if cred.Key != "scoped-token" {
		t.Errorf("Expected scoped token, got %q", cred.Key)
	}
	if cred.ExpiresIn != 30 {
		t.Errorf("Expected expires_in 30, got %d", cred.ExpiresIn)
	}
	if gotAuth != "Token api-key" {
		t.Errorf("Expected Token auth header, got %q", gotAuth)
	}
}

func TestObtainUpstreamErrorYieldsGrantError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "key revoked"})
	}))
	defer server.Close()

	p := NewProvider("api-key", server.URL, "wss://agent.example", false, zap.NewNop())

	_, err := p.Obtain(context.Background(), "tester")
	var grantErr *GrantError
	if !errors.As(err, &grantErr) {
		t.Fatalf("Expected GrantError, got %v", err)
	}
	if grantErr.Detail != "key revoked" {
		t.Errorf("Expected upstream detail carried, got %q", grantErr.Detail)
	}
}

func TestObtainEmptyGrantYieldsGrantError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	p := NewProvider("api-key", server.URL, "wss://agent.example", false, zap.NewNop())

	_, err := p.Obtain(context.Background(), "tester")
	var grantErr *GrantError
	if !errors.As(err, &grantErr) {
		t.Fatalf("Expected GrantError for empty grant, got %v", err)
	}
}

func TestObtainUnreachableServiceYieldsGrantError(t *testing.T) {
	p := NewProvider("api-key", "http://127.0.0.1:1/grant", "wss://agent.example", false, zap.NewNop())

	_, err := p.Obtain(context.Background(), "tester")
	var grantErr *GrantError
	if !errors.As(err, &grantErr) {
		t.Fatalf("Expected GrantError for unreachable service, got %v", err)
	}
}
