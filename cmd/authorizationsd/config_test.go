package main

import (
	"context"
	"testing"

	"github.com/goliatone/go-authorizations/core"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://app.example/google/callback")
	t.Setenv("AUTHORIZATIONS_SESSION_SECRET", "session-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := loadConfig("testdata/missing.env")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite3" || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SafetyMargin != 120 || cfg.tableName() != core.DefaultAuthorizationTable {
		t.Fatalf("expected safety margin 120 and default table, got %d %q", cfg.SafetyMargin, cfg.tableName())
	}
	if cfg.RedisAddr != "" || cfg.MetricsEnabled || cfg.MetricsPath != "/metrics" || cfg.LockTTLSeconds != 30 {
		t.Fatalf("expected redis and metrics to be opt-in, got %+v", cfg)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("expected json log format by default, got %q", cfg.LogFormat)
	}
}

func TestOpenRedis_SkippedWithoutAddress(t *testing.T) {
	client, err := openRedis(context.Background(), daemonConfig{})
	if err != nil || client != nil {
		t.Fatalf("expected no redis client without an address, got %v %v", client, err)
	}
}

func TestLoadConfig_RequiresGoogleClient(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_REDIRECT_URL", "")
	t.Setenv("AUTHORIZATIONS_SESSION_SECRET", "")
	if _, err := loadConfig("testdata/missing.env"); err == nil {
		t.Fatalf("expected missing required variables to fail")
	}
}

func TestRawServiceConfig_FeedsCoreConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTHORIZATIONS_DEFAULT_SCOPES", "https://www.googleapis.com/auth/drive.readonly, ,profile")
	t.Setenv("AUTHORIZATIONS_TABLE", "tenant_authorisations")
	t.Setenv("AUTHORIZATIONS_DEFAULT_FINAL_ROUTE", "/integrations")
	t.Setenv("AUTHORIZATIONS_EXPIRES_IN_SAFETY_MARGIN", "300")
	cfg, err := loadConfig("testdata/missing.env")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	svc, err := core.NewService(core.Config{},
		core.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticConfigLoader{Values: cfg.rawServiceConfig()})),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	resolved := svc.Config()
	if resolved.ExpiresInSafetyMargin != 300 {
		t.Fatalf("expected safety margin 300, got %d", resolved.ExpiresInSafetyMargin)
	}
	if resolved.AuthorizationTable != "tenant_authorisations" {
		t.Fatalf("expected table override, got %q", resolved.AuthorizationTable)
	}
	if len(resolved.DefaultScopes) != 2 {
		t.Fatalf("expected two default scopes, got %v", resolved.DefaultScopes)
	}
	if got := resolved.Redirect.FinalRedirect(); got != "/integrations" {
		t.Fatalf("expected final route to win, got %q", got)
	}
	if len(resolved.BaselineScopes) != 2 {
		t.Fatalf("expected baseline scopes to keep their default, got %v", resolved.BaselineScopes)
	}
}

func TestSecretProvider_SealsWithAppKey(t *testing.T) {
	none, err := secretProvider(daemonConfig{})
	if err != nil || none != nil {
		t.Fatalf("expected no provider without app key, got %v %v", none, err)
	}

	provider, err := secretProvider(daemonConfig{
		AppKey:        "0123456789abcdef0123456789abcdef",
		RetiredAppKey: "fedcba9876543210fedcba9876543210",
	})
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	sealed, err := provider.Encrypt(context.Background(), []byte("tok1"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := provider.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(opened) != "tok1" {
		t.Fatalf("unexpected round trip %q", opened)
	}
}
