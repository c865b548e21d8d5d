package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authorizations/core"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	maxProfileResponseBytes = 1 << 20 // 1 MiB
	GoogleIssuer            = "https://accounts.google.com"
	GoogleUserInfoURL       = "https://openidconnect.googleapis.com/v1/userinfo"
)

var ErrProfileNotFound = errors.New("identity: profile not found")

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IDTokenVerifier validates an id_token and returns its claims. Without one
// the resolver reads claims unverified; the token came straight from the
// token endpoint over TLS.
type IDTokenVerifier func(ctx context.Context, idToken string) (jwt.MapClaims, error)

type Profile struct {
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

func (p Profile) Identity() core.Identity {
	return core.Identity{SubjectID: strings.TrimSpace(p.Subject), Email: strings.TrimSpace(p.Email)}
}

type Config struct {
	HTTPClient      HTTPDoer
	RequestTimeout  time.Duration
	UserInfoURL     string
	Issuer          string
	IDTokenVerifier IDTokenVerifier
}

type Resolver struct {
	httpClient      HTTPDoer
	requestTimeout  time.Duration
	userInfoURL     string
	issuer          string
	idTokenVerifier IDTokenVerifier
}

func NewResolver(cfg Config) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Resolver{
		httpClient:      httpClient,
		requestTimeout:  requestTimeout,
		userInfoURL:     strings.TrimSpace(cfg.UserInfoURL),
		issuer:          strings.TrimSpace(cfg.Issuer),
		idTokenVerifier: cfg.IDTokenVerifier,
	}
}

// GoogleResolver resolves identities against Google's OpenID userinfo
// endpoint.
func GoogleResolver(httpClient HTTPDoer) *Resolver {
	return NewResolver(Config{
		HTTPClient:  httpClient,
		UserInfoURL: GoogleUserInfoURL,
		Issuer:      GoogleIssuer,
	})
}

// Resolve reads the subject and email from the id_token, falling back to the
// userinfo endpoint. It reports false when neither source is available.
func (r *Resolver) Resolve(ctx context.Context, bundle core.TokenBundle) (core.Identity, bool, error) {
	if r == nil {
		return core.Identity{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	profile, tokenErr := r.profileFromIDToken(ctx, bundle.IDToken)
	if tokenErr == nil && profile.Subject != "" {
		return profile.Identity(), true, nil
	}
	if r.userInfoURL == "" || strings.TrimSpace(bundle.AccessToken) == "" {
		if tokenErr != nil && strings.TrimSpace(bundle.IDToken) != "" {
			return core.Identity{}, false, fmt.Errorf("%w: %w", ErrProfileNotFound, tokenErr)
		}
		return core.Identity{}, false, nil
	}

	payload, err := r.fetchUserInfo(ctx, bundle.AccessToken)
	if err != nil {
		return core.Identity{}, false, fmt.Errorf("%w: %w", ErrProfileNotFound, err)
	}
	profile = r.normalize(payload)
	if profile.Subject == "" {
		return core.Identity{}, false, fmt.Errorf("%w: userinfo response is missing subject", ErrProfileNotFound)
	}
	return profile.Identity(), true, nil
}

// Probe calls the userinfo endpoint with accessToken. Only a 401 wraps
// core.ErrProviderUnauthorized; a 403 is a scope or quota failure and is
// reported as a plain status error.
func (r *Resolver) Probe(ctx context.Context, accessToken string) error {
	if r == nil || r.userInfoURL == "" {
		return fmt.Errorf("identity: userinfo endpoint is not configured")
	}
	_, err := r.fetchUserInfo(ctx, accessToken)
	return err
}

func (r *Resolver) fetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", core.ErrProviderUnauthorized)
	}
	requestCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, r.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxProfileResponseBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("identity: read profile response: %w", readErr)
	}
	if int64(len(body)) > maxProfileResponseBytes {
		return nil, fmt.Errorf("identity: profile response exceeds %d bytes", maxProfileResponseBytes)
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: userinfo returned status %d", core.ErrProviderUnauthorized, res.StatusCode)
	case res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("identity: profile endpoint returned status %d", res.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode profile response: %w", err)
	}
	return payload, nil
}

func (r *Resolver) profileFromIDToken(ctx context.Context, idToken string) (Profile, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Profile{}, fmt.Errorf("identity: id_token is required")
	}
	claims, err := r.idTokenClaims(ctx, idToken)
	if err != nil {
		return Profile{}, err
	}
	profile := r.normalize(claims)
	if profile.Subject == "" {
		return Profile{}, fmt.Errorf("identity: id_token is missing subject")
	}
	return profile, nil
}

func (r *Resolver) idTokenClaims(ctx context.Context, idToken string) (jwt.MapClaims, error) {
	if r.idTokenVerifier != nil {
		claims, err := r.idTokenVerifier(ctx, idToken)
		if err != nil {
			return nil, fmt.Errorf("identity: verify id_token: %w", err)
		}
		return claims, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("identity: decode id_token: %w", err)
	}
	return claims, nil
}

func (r *Resolver) normalize(payload map[string]any) Profile {
	issuer := readString(payload["iss"])
	if issuer == "" {
		issuer = r.issuer
	}
	return Profile{
		Issuer:        issuer,
		Subject:       readString(payload["sub"]),
		Email:         readString(payload["email"]),
		EmailVerified: readBool(payload["email_verified"]),
		Name:          readString(payload["name"]),
	}
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return err == nil && parsed
	default:
		return false
	}
}
