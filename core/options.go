package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	store            AuthorizationStore
	oauthClient      OAuthClient
	recordLocker     RecordLocker
	backoffScheduler BackoffScheduler
	nowFn            func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithAuthorizationStore(store AuthorizationStore) Option {
	return func(b *serviceBuilder) {
		b.store = store
	}
}

func WithOAuthClient(client OAuthClient) Option {
	return func(b *serviceBuilder) {
		b.oauthClient = client
	}
}

func WithRecordLocker(locker RecordLocker) Option {
	return func(b *serviceBuilder) {
		b.recordLocker = locker
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoffScheduler = scheduler
	}
}

// WithClock overrides the time source used for issued_at stamps.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("authorizations", nil, nil)
	return serviceBuilder{
		runtimeConfig:    runtime,
		loggerProvider:   loggerProvider,
		logger:           logger,
		metricsRecorder:  NopMetricsRecorder{},
		errorFactory:     goerrors.New,
		errorMapper:      defaultErrorMapper,
		configProvider:   NewCfgxConfigProvider(nil),
		optionsResolver:  GoOptionsResolver{},
		recordLocker:     NewMemoryRecordLocker(),
		backoffScheduler: ExponentialBackoffScheduler{},
		nowFn:            func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

// StaticConfigLoader serves a fixed raw config map.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap flattens a config into an options layer. Zero values are
// skipped for non-default layers so they never mask lower layers.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.ExpiresInSafetyMargin > 0 {
		layer["expires_in_safety_margin"] = cfg.ExpiresInSafetyMargin
	}
	if includeZero || cfg.DefaultLifetime > 0 {
		layer["default_lifetime"] = cfg.DefaultLifetime
	}
	if includeZero || len(cfg.BaselineScopes) > 0 {
		layer["baseline_scopes"] = append([]string(nil), cfg.BaselineScopes...)
	}
	if includeZero || len(cfg.DefaultScopes) > 0 {
		layer["default_scopes"] = append([]string(nil), cfg.DefaultScopes...)
	}
	if includeZero || cfg.LockTTLSeconds > 0 {
		layer["lock_ttl_seconds"] = cfg.LockTTLSeconds
	}
	if includeZero || strings.TrimSpace(cfg.AuthorizationTable) != "" {
		layer["authorisation_table"] = cfg.AuthorizationTable
	}

	redirect := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Redirect.DefaultFinalRoute) != "" {
		redirect["default_final_route"] = cfg.Redirect.DefaultFinalRoute
	}
	if includeZero || strings.TrimSpace(cfg.Redirect.DefaultFinalPath) != "" {
		redirect["default_final_path"] = cfg.Redirect.DefaultFinalPath
	}
	if len(redirect) > 0 {
		layer["redirect"] = redirect
	}
	return layer
}
