// Package authorizations manages the lifecycle of OAuth2 authorizations held
// on behalf of owners: initiating consent, completing the code exchange,
// refreshing and revoking tokens, and probing their health.
package authorizations

import "github.com/goliatone/go-authorizations/core"

type Config = core.Config

type RedirectConfig = core.RedirectConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Authorization = core.Authorization
type AuthorizationState = core.AuthorizationState
type RecordKey = core.RecordKey
type TokenBundle = core.TokenBundle
type ScopeSet = core.ScopeSet

type AuthorizationStore = core.AuthorizationStore
type OAuthClient = core.OAuthClient
type RecordLocker = core.RecordLocker
type BackoffScheduler = core.BackoffScheduler
type SecretProvider = core.SecretProvider

type InitiateRequest = core.InitiateRequest
type InitiateResult = core.InitiateResult
type CompleteRequest = core.CompleteRequest

const (
	AuthorizationStatePending  = core.AuthorizationStatePending
	AuthorizationStateActive   = core.AuthorizationStateActive
	AuthorizationStateInactive = core.AuthorizationStateInactive
)

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithAuthorizationStore    = core.WithAuthorizationStore
	WithOAuthClient           = core.WithOAuthClient
	WithRecordLocker          = core.WithRecordLocker
	WithBackoffScheduler      = core.WithBackoffScheduler
	WithClock                 = core.WithClock
)

var (
	NewRecordKey                = core.NewRecordKey
	NewMemoryAuthorizationStore = core.NewMemoryAuthorizationStore
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
