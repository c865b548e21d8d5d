package google

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-authorizations/identity"
	"github.com/goliatone/go-authorizations/providers"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	RevokeURL = "https://oauth2.googleapis.com/revoke"

	ScopeOpenID  = "openid"
	ScopeEmail   = "email"
	ScopeProfile = "profile"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint, RevokeURL and UserInfoURL default to Google's production
	// endpoints.
	Endpoint       oauth2.Endpoint
	RevokeURL      string
	UserInfoURL    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Endpoint:    googleoauth.Endpoint,
		RevokeURL:   RevokeURL,
		UserInfoURL: identity.GoogleUserInfoURL,
	}
}

// New builds a Google client that always asks for offline access with a
// forced consent prompt, so every completed authorization carries a refresh
// token.
func New(cfg Config) (*providers.OAuth2Client, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Endpoint.AuthURL) == "" || strings.TrimSpace(cfg.Endpoint.TokenURL) == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if strings.TrimSpace(cfg.RevokeURL) == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if strings.TrimSpace(cfg.UserInfoURL) == "" {
		cfg.UserInfoURL = defaults.UserInfoURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return providers.NewOAuth2Client(providers.OAuth2Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     cfg.Endpoint,
		RevokeURL:    cfg.RevokeURL,
		AuthCodeOptions: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.ApprovalForce,
		},
		Identity: identity.NewResolver(identity.Config{
			HTTPClient:     httpClient,
			RequestTimeout: cfg.RequestTimeout,
			UserInfoURL:    cfg.UserInfoURL,
			Issuer:         identity.GoogleIssuer,
		}),
		HTTPClient:     httpClient,
		RequestTimeout: cfg.RequestTimeout,
	})
}
