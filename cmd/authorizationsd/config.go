package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-authorizations/core"
	"github.com/joho/godotenv"
)

type daemonConfig struct {
	Addr string `env:"AUTHORIZATIONS_ADDR" envDefault:":8080"`

	DatabaseDriver string        `env:"AUTHORIZATIONS_DB_DRIVER" envDefault:"sqlite3"`
	DatabaseDSN    string        `env:"AUTHORIZATIONS_DB_DSN" envDefault:"file:authorizations.db?cache=shared&_foreign_keys=on"`
	DatabaseDebug  bool          `env:"AUTHORIZATIONS_DB_DEBUG"`
	PingTimeout    time.Duration `env:"AUTHORIZATIONS_DB_PING_TIMEOUT" envDefault:"5s"`
	AutoMigrate    bool          `env:"AUTHORIZATIONS_AUTO_MIGRATE" envDefault:"true"`

	Table         string        `env:"AUTHORIZATIONS_TABLE" envDefault:"gapi_authorisations"`
	CacheListings bool          `env:"AUTHORIZATIONS_CACHE_LISTINGS"`
	CacheTTL      time.Duration `env:"AUTHORIZATIONS_CACHE_TTL" envDefault:"1m"`

	RedisAddr        string        `env:"AUTHORIZATIONS_REDIS_ADDR"`
	RedisPassword    string        `env:"AUTHORIZATIONS_REDIS_PASSWORD"`
	RedisDB          int           `env:"AUTHORIZATIONS_REDIS_DB" envDefault:"0"`
	RedisConnTimeout time.Duration `env:"AUTHORIZATIONS_REDIS_CONN_TIMEOUT" envDefault:"5s"`
	LockTTLSeconds   int           `env:"AUTHORIZATIONS_LOCK_TTL_SECONDS" envDefault:"30"`

	AppKey        string `env:"AUTHORIZATIONS_APP_KEY"`
	RetiredAppKey string `env:"AUTHORIZATIONS_RETIRED_APP_KEY"`

	GoogleClientID     string   `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string   `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string   `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`
	DefaultScopes      []string `env:"AUTHORIZATIONS_DEFAULT_SCOPES" envSeparator:","`
	BaselineScopes     []string `env:"AUTHORIZATIONS_BASELINE_SCOPES" envSeparator:","`
	SafetyMargin       int64    `env:"AUTHORIZATIONS_EXPIRES_IN_SAFETY_MARGIN" envDefault:"120"`
	DefaultLifetime    int64    `env:"AUTHORIZATIONS_DEFAULT_LIFETIME" envDefault:"3600"`

	RoutePrefix       string `env:"AUTHORIZATIONS_ROUTE_PREFIX" envDefault:"/google"`
	DefaultFinalRoute string `env:"AUTHORIZATIONS_DEFAULT_FINAL_ROUTE"`
	DefaultFinalPath  string `env:"AUTHORIZATIONS_DEFAULT_FINAL_PATH" envDefault:"/"`
	SessionSecret     string `env:"AUTHORIZATIONS_SESSION_SECRET,required,notEmpty"`
	SecureCookies     bool   `env:"AUTHORIZATIONS_SECURE_COOKIES" envDefault:"true"`
	OwnerHeader       string `env:"AUTHORIZATIONS_OWNER_HEADER" envDefault:"X-Owner-ID"`

	MetricsEnabled bool   `env:"AUTHORIZATIONS_METRICS_ENABLED"`
	MetricsPath    string `env:"AUTHORIZATIONS_METRICS_PATH" envDefault:"/metrics"`

	LogLevel  string `env:"AUTHORIZATIONS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHORIZATIONS_LOG_FORMAT" envDefault:"json"`
}

// loadConfig reads an optional .env file and then the process environment.
func loadConfig(envFiles ...string) (daemonConfig, error) {
	if len(envFiles) > 0 {
		_ = godotenv.Load(envFiles...)
	} else {
		_ = godotenv.Load()
	}
	var cfg daemonConfig
	if err := env.Parse(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("authorizationsd: parse environment: %w", err)
	}
	cfg.DefaultScopes = trimCSV(cfg.DefaultScopes)
	cfg.BaselineScopes = trimCSV(cfg.BaselineScopes)
	return cfg, nil
}

// rawServiceConfig is the layer fed to core's config provider. Keys follow
// core.Config's koanf tags.
func (c daemonConfig) rawServiceConfig() map[string]any {
	raw := map[string]any{
		"expires_in_safety_margin": c.SafetyMargin,
		"default_lifetime":         c.DefaultLifetime,
		"authorisation_table":      c.tableName(),
		"lock_ttl_seconds":         c.LockTTLSeconds,
		"redirect": map[string]any{
			"default_final_route": strings.TrimSpace(c.DefaultFinalRoute),
			"default_final_path":  strings.TrimSpace(c.DefaultFinalPath),
		},
	}
	if len(c.DefaultScopes) > 0 {
		raw["default_scopes"] = c.DefaultScopes
	}
	if len(c.BaselineScopes) > 0 {
		raw["baseline_scopes"] = c.BaselineScopes
	}
	return raw
}

func (c daemonConfig) tableName() string {
	if table := strings.TrimSpace(c.Table); table != "" {
		return table
	}
	return core.DefaultAuthorizationTable
}

// persistence.Config
func (c daemonConfig) GetDebug() bool                { return c.DatabaseDebug }
func (c daemonConfig) GetDriver() string             { return c.DatabaseDriver }
func (c daemonConfig) GetServer() string             { return c.DatabaseDSN }
func (c daemonConfig) GetPingTimeout() time.Duration { return c.PingTimeout }
func (c daemonConfig) GetOtelIdentifier() string     { return "go-authorizations" }

func trimCSV(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
