package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// stubOAuthClient scripts provider responses and records calls.
type stubOAuthClient struct {
	mu sync.Mutex

	exchangeBundle TokenBundle
	exchangeErr    error
	exchangeGate   chan struct{}
	exchangeEnter  chan struct{}

	refreshBundles []TokenBundle
	refreshErr     error

	revokeErr error
	identity  Identity
	identOK   bool
	identErr  error

	probeErrs []error

	authorizeRequests []AuthorizeURLRequest
	exchangedCodes    []string
	refreshedTokens   []string
	revokedTokens     []string
	probedTokens      []string
	onRefresh         TokenRefreshedFunc
}

func (c *stubOAuthClient) AuthorizeURL(_ context.Context, req AuthorizeURLRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorizeRequests = append(c.authorizeRequests, req)
	return "https://accounts.example/auth?scope=" + strings.Join(req.Scopes, "+") + "&state=" + req.State, nil
}

func (c *stubOAuthClient) ExchangeCode(ctx context.Context, code string, _ string) (TokenBundle, error) {
	c.mu.Lock()
	c.exchangedCodes = append(c.exchangedCodes, code)
	gate := c.exchangeGate
	enter := c.exchangeEnter
	c.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return TokenBundle{}, ctx.Err()
		}
	}
	if c.exchangeErr != nil {
		return TokenBundle{}, c.exchangeErr
	}
	return c.exchangeBundle, nil
}

func (c *stubOAuthClient) RefreshToken(_ context.Context, refreshToken string) (TokenBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshedTokens = append(c.refreshedTokens, refreshToken)
	if c.refreshErr != nil {
		return TokenBundle{}, c.refreshErr
	}
	if len(c.refreshBundles) == 0 {
		return TokenBundle{}, fmt.Errorf("stub: no refresh bundle scripted")
	}
	bundle := c.refreshBundles[0]
	c.refreshBundles = c.refreshBundles[1:]
	return bundle, nil
}

func (c *stubOAuthClient) RevokeToken(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revokedTokens = append(c.revokedTokens, token)
	return c.revokeErr
}

func (c *stubOAuthClient) VerifyIdentity(context.Context, TokenBundle) (Identity, bool, error) {
	return c.identity, c.identOK, c.identErr
}

func (c *stubOAuthClient) Probe(_ context.Context, accessToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probedTokens = append(c.probedTokens, accessToken)
	if len(c.probeErrs) == 0 {
		return nil
	}
	err := c.probeErrs[0]
	c.probeErrs = c.probeErrs[1:]
	return err
}

func (c *stubOAuthClient) HTTPClient(_ context.Context, _ TokenBundle, onRefresh TokenRefreshedFunc) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefresh = onRefresh
	return &http.Client{}
}

func (c *stubOAuthClient) revoked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.revokedTokens...)
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0).UTC() }
}

func lifetime(value int64) *int64 {
	return &value
}

func newTestService(client OAuthClient, opts ...Option) (*Service, *MemoryAuthorizationStore, error) {
	store := NewMemoryAuthorizationStore()
	options := append([]Option{
		WithAuthorizationStore(store),
		WithOAuthClient(client),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithBackoffScheduler(ExponentialBackoffScheduler{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
	}, opts...)
	svc, err := NewService(DefaultConfig(), options...)
	return svc, store, err
}

// activate drives the key through initiate and complete with the stub's
// exchange bundle.
func activate(ctx context.Context, svc *Service, ownerID string, name string) (Authorization, error) {
	if _, err := svc.Initiate(ctx, InitiateRequest{OwnerID: ownerID, Name: name}); err != nil {
		return Authorization{}, err
	}
	return svc.Complete(ctx, CompleteRequest{OwnerID: ownerID, Name: name, Code: "abc"})
}
