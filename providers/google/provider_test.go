package google

import (
	"context"
	"net/url"
	"testing"

	"github.com/goliatone/go-authorizations/core"
)

func TestNew_ForcesOfflineConsent(t *testing.T) {
	client, err := New(Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURL:  "https://app.example/oauth/callback",
	})
	if err != nil {
		t.Fatalf("new google client: %v", err)
	}

	raw, err := client.AuthorizeURL(context.Background(), core.AuthorizeURLRequest{
		Scopes: []string{ScopeOpenID, ScopeEmail},
		State:  "state_1",
	})
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	if parsed.Host != "accounts.google.com" {
		t.Fatalf("expected google authorize host, got %q", parsed.Host)
	}
	query := parsed.Query()
	if query.Get("access_type") != "offline" {
		t.Fatalf("expected access_type=offline, got %q", query.Get("access_type"))
	}
	if query.Get("prompt") != "consent" {
		t.Fatalf("expected prompt=consent, got %q", query.Get("prompt"))
	}
	if query.Get("scope") != "openid email" {
		t.Fatalf("unexpected scope %q", query.Get("scope"))
	}
	if query.Get("redirect_uri") != "https://app.example/oauth/callback" {
		t.Fatalf("unexpected redirect uri %q", query.Get("redirect_uri"))
	}
}

func TestDefaultConfig_UsesGoogleEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RevokeURL != RevokeURL {
		t.Fatalf("expected revoke url %q, got %q", RevokeURL, cfg.RevokeURL)
	}
	if cfg.Endpoint.TokenURL == "" || cfg.UserInfoURL == "" {
		t.Fatalf("expected google token and userinfo endpoints")
	}
}
