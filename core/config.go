package core

import (
	"fmt"
	"strings"
	"time"
)

const DefaultAuthorizationTable = "gapi_authorisations"

type RedirectConfig struct {
	DefaultFinalRoute string `koanf:"default_final_route" mapstructure:"default_final_route"`
	DefaultFinalPath  string `koanf:"default_final_path" mapstructure:"default_final_path"`
}

type Config struct {
	ServiceName           string         `koanf:"service_name" mapstructure:"service_name"`
	ExpiresInSafetyMargin int64          `koanf:"expires_in_safety_margin" mapstructure:"expires_in_safety_margin"`
	DefaultLifetime       int64          `koanf:"default_lifetime" mapstructure:"default_lifetime"`
	BaselineScopes        []string       `koanf:"baseline_scopes" mapstructure:"baseline_scopes"`
	DefaultScopes         []string       `koanf:"default_scopes" mapstructure:"default_scopes"`
	LockTTLSeconds        int            `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds"`
	AuthorizationTable    string         `koanf:"authorisation_table" mapstructure:"authorisation_table"`
	Redirect              RedirectConfig `koanf:"redirect" mapstructure:"redirect"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:           "authorizations",
		ExpiresInSafetyMargin: DefaultExpiresInSafetyMargin,
		DefaultLifetime:       DefaultTokenLifetimeSeconds,
		BaselineScopes:        DefaultBaselineScopes(),
		DefaultScopes:         []string{},
		LockTTLSeconds:        int(defaultRecordLockTTL / time.Second),
		AuthorizationTable:    DefaultAuthorizationTable,
		Redirect: RedirectConfig{
			DefaultFinalPath: "/",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.ExpiresInSafetyMargin < 0 {
		return fmt.Errorf("core: expires_in_safety_margin must be >= 0")
	}
	if c.DefaultLifetime < 0 {
		return fmt.Errorf("core: default_lifetime must be >= 0")
	}
	if c.LockTTLSeconds < 0 {
		return fmt.Errorf("core: lock_ttl_seconds must be >= 0")
	}
	if strings.TrimSpace(c.AuthorizationTable) == "" {
		return fmt.Errorf("core: authorisation_table is required")
	}
	return nil
}

func (c Config) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return defaultRecordLockTTL
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// FinalRedirect resolves the post-authorization target: the route wins over
// the path, and "/" is the last resort.
func (c RedirectConfig) FinalRedirect() string {
	if route := strings.TrimSpace(c.DefaultFinalRoute); route != "" {
		return route
	}
	if path := strings.TrimSpace(c.DefaultFinalPath); path != "" {
		return path
	}
	return "/"
}
