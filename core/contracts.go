package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// TokenRefreshedFunc receives tokens minted by the capability outside an
// explicit refresh call.
type TokenRefreshedFunc func(ctx context.Context, bundle TokenBundle) error

// OAuthClient is the provider capability performing the network calls.
type OAuthClient interface {
	AuthorizeURL(ctx context.Context, req AuthorizeURLRequest) (string, error)
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenBundle, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenBundle, error)
	RevokeToken(ctx context.Context, token string) error
	VerifyIdentity(ctx context.Context, bundle TokenBundle) (Identity, bool, error)
	Probe(ctx context.Context, accessToken string) error
	HTTPClient(ctx context.Context, bundle TokenBundle, onRefresh TokenRefreshedFunc) *http.Client
}

type AuthorizationStore interface {
	First(ctx context.Context, ownerID string, filters ...Filter) (Authorization, bool, error)
	FirstOrFail(ctx context.Context, ownerID string, filters ...Filter) (Authorization, error)
	List(ctx context.Context, ownerID string, filters ...Filter) ([]Authorization, error)
	ListBySubject(ctx context.Context, subjectID string) ([]Authorization, error)
	Create(ctx context.Context, record Authorization) (Authorization, error)
	Update(ctx context.Context, record Authorization, expected Precondition) (Authorization, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type RecordLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// SealedSecretPrefix marks token values sealed by a SecretProvider.
const SealedSecretPrefix = "authorizations.secret.v1:"
