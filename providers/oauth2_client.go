package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authorizations/core"
	"github.com/goliatone/go-authorizations/identity"
	"golang.org/x/oauth2"
)

const (
	defaultRequestTimeout     = 30 * time.Second
	maxRevokeResponseBodySize = 64 << 10
)

type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	RevokeURL    string
	// AuthCodeOptions are appended to every authorize URL.
	AuthCodeOptions []oauth2.AuthCodeOption
	Identity        *identity.Resolver
	HTTPClient      *http.Client
	RequestTimeout  time.Duration
	Now             func() time.Time
}

// OAuth2Client implements core.OAuthClient on top of golang.org/x/oauth2.
type OAuth2Client struct {
	cfg        OAuth2Config
	oauth      oauth2.Config
	httpClient *http.Client
}

func NewOAuth2Client(cfg OAuth2Config) (*OAuth2Client, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required")
	}
	if strings.TrimSpace(cfg.Endpoint.AuthURL) == "" || strings.TrimSpace(cfg.Endpoint.TokenURL) == "" {
		return nil, fmt.Errorf("providers: auth and token urls are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.NewResolver(identity.Config{HTTPClient: httpClient})
	}

	return &OAuth2Client{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
		},
		httpClient: httpClient,
	}, nil
}

func (c *OAuth2Client) AuthorizeURL(_ context.Context, req core.AuthorizeURLRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("providers: oauth2 client is nil")
	}
	conf := c.configFor(req.RedirectURI)
	conf.Scopes = append([]string(nil), req.Scopes...)
	return conf.AuthCodeURL(req.State, c.cfg.AuthCodeOptions...), nil
}

func (c *OAuth2Client) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.TokenBundle, error) {
	if c == nil {
		return core.TokenBundle{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenBundle{}, fmt.Errorf("providers: authorization code is required")
	}
	conf := c.configFor(redirectURI)
	token, err := conf.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("providers: exchange code: %w", err)
	}
	return c.bundleFromToken(token, false), nil
}

func (c *OAuth2Client) RefreshToken(ctx context.Context, refreshToken string) (core.TokenBundle, error) {
	if c == nil {
		return core.TokenBundle{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenBundle{}, fmt.Errorf("providers: refresh token is required")
	}
	token, err := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("providers: refresh token: %w", err)
	}
	return c.bundleFromToken(token, false), nil
}

// RevokeToken posts the token to the revocation endpoint. Without a
// configured endpoint there is nothing to call and the revoke succeeds.
func (c *OAuth2Client) RevokeToken(ctx context.Context, token string) error {
	if c == nil {
		return fmt.Errorf("providers: oauth2 client is nil")
	}
	if c.cfg.RevokeURL == "" {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("providers: token is required")
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("providers: revoke request failed: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxRevokeResponseBodySize))
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("providers: revoke endpoint error (%d): %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *OAuth2Client) VerifyIdentity(ctx context.Context, bundle core.TokenBundle) (core.Identity, bool, error) {
	if c == nil {
		return core.Identity{}, false, fmt.Errorf("providers: oauth2 client is nil")
	}
	return c.cfg.Identity.Resolve(ctx, bundle)
}

func (c *OAuth2Client) Probe(ctx context.Context, accessToken string) error {
	if c == nil {
		return fmt.Errorf("providers: oauth2 client is nil")
	}
	return c.cfg.Identity.Probe(ctx, accessToken)
}

// HTTPClient returns a client that authorizes requests with the bundle and
// refreshes it when it expires. Each newly minted token is handed to
// onRefresh before the request proceeds.
func (c *OAuth2Client) HTTPClient(ctx context.Context, bundle core.TokenBundle, onRefresh core.TokenRefreshedFunc) *http.Client {
	ctx = c.clientContext(ctx)
	initial := &oauth2.Token{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		TokenType:    bundle.TokenType,
	}
	if bundle.IssuedAt > 0 && bundle.LifetimeSeconds != nil {
		initial.Expiry = time.Unix(bundle.IssuedAt+*bundle.LifetimeSeconds, 0).UTC()
	}
	source := &notifyingTokenSource{
		ctx:       ctx,
		base:      c.oauth.TokenSource(ctx, initial),
		current:   bundle.AccessToken,
		onRefresh: onRefresh,
		convert:   func(token *oauth2.Token) core.TokenBundle { return c.bundleFromToken(token, true) },
	}
	return oauth2.NewClient(ctx, source)
}

func (c *OAuth2Client) configFor(redirectURI string) oauth2.Config {
	conf := c.oauth
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		conf.RedirectURL = redirectURI
	}
	return conf
}

func (c *OAuth2Client) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// bundleFromToken converts a provider token. Issued-at is left for the codec
// to stamp unless stamp is set.
func (c *OAuth2Client) bundleFromToken(token *oauth2.Token, stamp bool) core.TokenBundle {
	now := c.cfg.Now()
	bundle := core.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}
	switch {
	case token.ExpiresIn > 0:
		lifetime := token.ExpiresIn
		bundle.LifetimeSeconds = &lifetime
	case !token.Expiry.IsZero():
		lifetime := int64(token.Expiry.Sub(now).Round(time.Second) / time.Second)
		if lifetime < 0 {
			lifetime = 0
		}
		bundle.LifetimeSeconds = &lifetime
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		bundle.IDToken = idToken
	}
	if stamp {
		bundle.IssuedAt = now.Unix()
	}
	return bundle
}

type notifyingTokenSource struct {
	ctx       context.Context
	base      oauth2.TokenSource
	onRefresh core.TokenRefreshedFunc
	convert   func(*oauth2.Token) core.TokenBundle

	mu      sync.Mutex
	current string
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := token.AccessToken != s.current
	if changed {
		s.current = token.AccessToken
	}
	s.mu.Unlock()

	if changed && s.onRefresh != nil {
		if err := s.onRefresh(s.ctx, s.convert(token)); err != nil {
			return nil, fmt.Errorf("providers: persist refreshed token: %w", err)
		}
	}
	return token, nil
}

var _ core.OAuthClient = (*OAuth2Client)(nil)
