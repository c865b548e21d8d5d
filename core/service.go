package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config           Config
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
	codec            TokenCodec
	scopes           ScopeSet
	nowFn            func() time.Time
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	Store            AuthorizationStore
	OAuthClient      OAuthClient
	RecordLocker     RecordLocker
	BackoffScheduler BackoffScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("authorizations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("authorizations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.store == nil {
		builder.store = NewMemoryAuthorizationStore()
	}
	if builder.recordLocker == nil {
		builder.recordLocker = NewMemoryRecordLocker()
	}
	if builder.backoffScheduler == nil {
		builder.backoffScheduler = ExponentialBackoffScheduler{}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	codec := NewTokenCodec(finalConfig)
	codec.Now = builder.nowFn

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorFactory:     builder.errorFactory,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		store:            builder.store,
		oauthClient:      builder.oauthClient,
		recordLocker:     builder.recordLocker,
		backoffScheduler: builder.backoffScheduler,
		codec:            codec,
		scopes:           NewScopeSet(finalConfig.BaselineScopes),
		nowFn:            builder.nowFn,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Scopes() ScopeSet {
	if s == nil {
		return NewScopeSet(DefaultBaselineScopes())
	}
	return s.scopes
}

func (s *Service) Codec() TokenCodec {
	if s == nil {
		return NewTokenCodec(DefaultConfig())
	}
	return s.codec
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		Store:            s.store,
		OAuthClient:      s.oauthClient,
		RecordLocker:     s.recordLocker,
		BackoffScheduler: s.backoffScheduler,
	}
}

// Initiate resets (or creates) the authorization for the key to pending and
// returns the provider consent URL. A currently active authorization is
// revoked first; a failed remote revoke is reported but does not stop the
// flow.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (result InitiateResult, err error) {
	startedAt := time.Now().UTC()
	key := req.Key()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		if result.Authorization.ID != "" {
			fields["authorization_id"] = result.Authorization.ID
			fields["state"] = result.Authorization.State.String()
		}
		if result.RevokeError != nil {
			fields["revoke_error"] = result.RevokeError.Error()
		}
		s.observeOperation(ctx, startedAt, "initiate", err, fields)
	}()

	if err = s.requireCollaborators(key, true); err != nil {
		err = s.mapError(err)
		return InitiateResult{}, err
	}

	err = s.withRecordLock(ctx, key, func(ctx context.Context) error {
		record, found, findErr := s.store.First(ctx, key.OwnerID, ByName(key.Name))
		if findErr != nil {
			return findErr
		}
		if !found {
			record, findErr = s.store.Create(ctx, NewAuthorization(key))
			if findErr != nil {
				return findErr
			}
		}

		if record.IsActive() {
			revoked, remoteErr, persistErr := s.revokeLocked(ctx, record)
			if persistErr != nil {
				return persistErr
			}
			record = revoked
			if remoteErr != nil {
				result.RevokeError = remoteErr
				s.logError(ctx, "initiate: revoke of active authorization failed", map[string]any{
					"owner_id": key.OwnerID,
					"name":     key.Name,
					"error":    remoteErr.Error(),
				})
			}
		}

		next := record.Clone()
		next.ClearTokens()
		next.State = AuthorizationStatePending
		s.scopes.Set(&next, s.initiateScopes(record, req))

		saved, updateErr := s.store.Update(ctx, next, PreconditionFor(record))
		if updateErr != nil {
			return updateErr
		}

		authorizeURL, urlErr := s.oauthClient.AuthorizeURL(ctx, AuthorizeURLRequest{
			Scopes:      s.scopes.Get(saved),
			RedirectURI: strings.TrimSpace(req.RedirectURI),
			State:       strings.TrimSpace(req.State),
		})
		if urlErr != nil {
			return fmt.Errorf("core: build authorize url: %w", urlErr)
		}

		result.Authorization = saved
		result.AuthorizeURL = authorizeURL
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return InitiateResult{}, err
	}
	return result, nil
}

// initiateScopes merges requested, added and previously granted scopes. When
// nothing beyond the baseline would remain, configured defaults are used.
func (s *Service) initiateScopes(record Authorization, req InitiateRequest) []string {
	combined := make([]string, 0, len(req.Scopes)+len(req.AddScopes))
	combined = append(combined, req.Scopes...)
	combined = append(combined, req.AddScopes...)
	combined = append(combined, s.scopes.Get(record)...)
	combined = normalizeScopes(combined)
	if len(s.withoutBaseline(combined)) == 0 {
		combined = normalizeScopes(append(append([]string(nil), s.config.DefaultScopes...), combined...))
	}
	return combined
}

func (s *Service) withoutBaseline(scopes []string) []string {
	baseline := map[string]struct{}{}
	for _, scope := range s.scopes.Baseline {
		baseline[scope] = struct{}{}
	}
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if _, ok := baseline[scope]; ok {
			continue
		}
		out = append(out, scope)
	}
	return out
}

// Complete exchanges the authorization code for the pending record and
// activates it.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (completed Authorization, err error) {
	startedAt := time.Now().UTC()
	key := req.Key()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		if completed.ID != "" {
			fields["authorization_id"] = completed.ID
			fields["state"] = completed.State.String()
			fields["provider_subject_id"] = completed.ProviderSubjectID
		}
		s.observeOperation(ctx, startedAt, "complete", err, fields)
	}()

	if err = s.requireCollaborators(key, true); err != nil {
		err = s.mapError(err)
		return Authorization{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return Authorization{}, err
	}

	err = s.withRecordLock(ctx, key, func(ctx context.Context) error {
		record, findErr := s.findPending(ctx, key)
		if findErr != nil {
			return findErr
		}

		bundle, exchangeErr := s.oauthClient.ExchangeCode(ctx, code, strings.TrimSpace(req.RedirectURI))
		if exchangeErr != nil {
			return fmt.Errorf("%w: %w", ErrExchangeFailed, exchangeErr)
		}

		next := record.Clone()
		if decodeErr := s.codec.Decode(bundle, &next); decodeErr != nil {
			return fmt.Errorf("%w: %w", ErrExchangeFailed, decodeErr)
		}

		identity, ok, identityErr := s.oauthClient.VerifyIdentity(ctx, bundle)
		switch {
		case identityErr != nil:
			s.logError(ctx, "complete: identity claims unavailable", map[string]any{
				"owner_id": key.OwnerID,
				"name":     key.Name,
				"error":    identityErr.Error(),
			})
		case ok:
			if subject := strings.TrimSpace(identity.SubjectID); subject != "" {
				next.ProviderSubjectID = subject
			}
			if email := strings.TrimSpace(identity.Email); email != "" {
				next.ProviderEmail = email
			}
		}
		next.State = AuthorizationStateActive

		saved, updateErr := s.store.Update(ctx, next, PreconditionFor(record))
		if updateErr != nil {
			return updateErr
		}
		completed = saved
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return Authorization{}, err
	}

	if completed.ProviderSubjectID != "" {
		if duplicates, dupErr := s.duplicatesOf(ctx, completed); dupErr == nil {
			fields["duplicate_authorizations"] = len(duplicates)
		}
	}
	return completed, nil
}

func (s *Service) findPending(ctx context.Context, key RecordKey) (Authorization, error) {
	record, found, err := s.store.First(ctx, key.OwnerID, ByName(key.Name))
	if err != nil {
		return Authorization{}, err
	}
	if !found {
		return Authorization{}, fmt.Errorf("%w: no pending authorization %s", ErrNotFound, key)
	}
	if !record.IsPending() {
		return Authorization{}, fmt.Errorf(
			"%w: %w: authorization %s is %s",
			ErrNotFound,
			ErrInvalidState,
			key,
			record.State,
		)
	}
	return record, nil
}

// Revoke invalidates the active authorization remotely and clears it
// locally. It reports false when there is nothing active to revoke. A failed
// remote call still deactivates the record and is returned with true.
func (s *Service) Revoke(ctx context.Context, key RecordKey) (revoked bool, err error) {
	startedAt := time.Now().UTC()
	key = key.Normalize()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		fields["revoked"] = revoked
		s.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	if err = s.requireCollaborators(key, false); err != nil {
		err = s.mapError(err)
		return false, err
	}

	err = s.withRecordLock(ctx, key, func(ctx context.Context) error {
		record, found, findErr := s.store.First(ctx, key.OwnerID, ByName(key.Name), ByState(AuthorizationStateActive))
		if findErr != nil {
			return findErr
		}
		if !found {
			return nil
		}
		_, remoteErr, persistErr := s.revokeLocked(ctx, record)
		if persistErr != nil {
			return persistErr
		}
		revoked = true
		return remoteErr
	})
	if err != nil {
		err = s.mapError(err)
		return revoked, err
	}
	return revoked, nil
}

func (s *Service) revokeLocked(ctx context.Context, record Authorization) (Authorization, error, error) {
	var remoteErr error
	token := strings.TrimSpace(record.AccessToken)
	if token == "" {
		token = strings.TrimSpace(record.RefreshToken)
	}
	if token != "" && s.oauthClient != nil {
		if err := s.oauthClient.RevokeToken(ctx, token); err != nil {
			remoteErr = fmt.Errorf("%w: %w", ErrRevokeFailed, err)
		}
	}

	next := record.Clone()
	next.ClearTokens()
	next.State = AuthorizationStateInactive
	saved, err := s.store.Update(ctx, next, PreconditionFor(record))
	if err != nil {
		return record, remoteErr, err
	}
	return saved, remoteErr, nil
}

// Refresh renews the access token with the stored refresh token. It reports
// false when no record with a refresh token exists.
func (s *Service) Refresh(ctx context.Context, key RecordKey) (refreshed bool, err error) {
	startedAt := time.Now().UTC()
	key = key.Normalize()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		fields["refreshed"] = refreshed
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if err = s.requireCollaborators(key, true); err != nil {
		err = s.mapError(err)
		return false, err
	}

	err = s.withRecordLock(ctx, key, func(ctx context.Context) error {
		record, found, findErr := s.store.First(ctx, key.OwnerID, ByName(key.Name))
		if findErr != nil {
			return findErr
		}
		if !found || record.IsPending() || !record.HasRefreshToken() {
			return nil
		}
		if _, refreshErr := s.refreshLocked(ctx, record); refreshErr != nil {
			return refreshErr
		}
		refreshed = true
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return false, err
	}
	return refreshed, nil
}

func (s *Service) refreshLocked(ctx context.Context, record Authorization) (Authorization, error) {
	if !record.HasRefreshToken() {
		return record, fmt.Errorf("%w: authorization %s has no refresh token", ErrRefreshFailed, record.Key())
	}
	bundle, err := s.oauthClient.RefreshToken(ctx, record.RefreshToken)
	if err != nil {
		return record, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	next := record.Clone()
	if err := s.codec.Decode(bundle, &next); err != nil {
		return record, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if next.State == AuthorizationStateInactive {
		next.State = AuthorizationStateActive
	}
	return s.store.Update(ctx, next, PreconditionFor(record))
}

// HealthCheck probes the provider with the stored access token. A rejected
// token gets one refresh and one retry; if that fails too the authorization
// is deactivated and the original failure returned.
func (s *Service) HealthCheck(ctx context.Context, key RecordKey) (err error) {
	startedAt := time.Now().UTC()
	key = key.Normalize()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "health_check", err, fields)
	}()

	if err = s.requireCollaborators(key, true); err != nil {
		err = s.mapError(err)
		return err
	}

	err = s.withRecordLock(ctx, key, func(ctx context.Context) error {
		record, findErr := s.store.FirstOrFail(ctx, key.OwnerID, ByName(key.Name))
		if findErr != nil {
			return findErr
		}
		if !record.IsActive() {
			return fmt.Errorf("%w: authorization %s is %s", ErrInactiveAuthorization, key, record.State)
		}

		probeErr := s.oauthClient.Probe(ctx, record.AccessToken)
		if probeErr == nil {
			return nil
		}
		if !IsProviderUnauthorized(probeErr) {
			return fmt.Errorf("core: health check probe failed: %w", probeErr)
		}

		current := record
		if record.HasRefreshToken() {
			refreshed, refreshErr := s.refreshLocked(ctx, record)
			if refreshErr != nil && IsConflict(refreshErr) {
				return refreshErr
			}
			if refreshErr == nil {
				fields["token_refreshed"] = true
				current = refreshed
				retryErr := s.oauthClient.Probe(ctx, current.AccessToken)
				if retryErr == nil {
					return nil
				}
				if !IsProviderUnauthorized(retryErr) {
					return fmt.Errorf("core: health check probe failed: %w", retryErr)
				}
			} else {
				fields["recovery_error"] = refreshErr.Error()
			}
		}

		next := current.Clone()
		next.ClearTokens()
		next.State = AuthorizationStateInactive
		if _, updateErr := s.store.Update(ctx, next, PreconditionFor(current)); updateErr != nil {
			return updateErr
		}
		fields["state"] = AuthorizationStateInactive.String()
		return fmt.Errorf("core: authorization deactivated after failed health check: %w", probeErr)
	})
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// StoreRefreshedToken persists a token the capability minted on its own.
// It goes through the same per-record lock and compare-and-swap as explicit
// operations, retrying the lock with backoff.
func (s *Service) StoreRefreshedToken(ctx context.Context, key RecordKey, bundle TokenBundle) (err error) {
	startedAt := time.Now().UTC()
	key = key.Normalize()
	fields := map[string]any{
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "store_refreshed_token", err, fields)
	}()

	if err = s.requireCollaborators(key, false); err != nil {
		err = s.mapError(err)
		return err
	}

	err = s.withRecordLockRetry(ctx, key, func(ctx context.Context) error {
		record, found, findErr := s.store.First(ctx, key.OwnerID, ByName(key.Name), ByState(AuthorizationStateActive))
		if findErr != nil {
			return findErr
		}
		if !found {
			return fmt.Errorf("%w: authorization %s", ErrInactiveAuthorization, key)
		}
		if strings.TrimSpace(bundle.AccessToken) == record.AccessToken {
			return nil
		}
		next := record.Clone()
		if decodeErr := s.codec.Decode(bundle, &next); decodeErr != nil {
			return decodeErr
		}
		_, updateErr := s.store.Update(ctx, next, PreconditionFor(record))
		return updateErr
	})
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// TokenBundle returns the json token of the active authorization.
func (s *Service) TokenBundle(ctx context.Context, key RecordKey) (TokenBundle, error) {
	record, err := s.activeRecord(ctx, key)
	if err != nil {
		return TokenBundle{}, err
	}
	bundle, _ := s.codec.Encode(record)
	return bundle, nil
}

// HTTPClient returns a client authorized with the active authorization.
// Tokens renewed by the client are written back through StoreRefreshedToken.
func (s *Service) HTTPClient(ctx context.Context, key RecordKey) (*http.Client, error) {
	key = key.Normalize()
	if err := s.requireCollaborators(key, true); err != nil {
		return nil, s.mapError(err)
	}
	record, err := s.activeRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	bundle, _ := s.codec.Encode(record)
	return s.oauthClient.HTTPClient(ctx, bundle, func(ctx context.Context, refreshed TokenBundle) error {
		return s.StoreRefreshedToken(ctx, key, refreshed)
	}), nil
}

func (s *Service) activeRecord(ctx context.Context, key RecordKey) (Authorization, error) {
	key = key.Normalize()
	if err := s.requireCollaborators(key, false); err != nil {
		return Authorization{}, s.mapError(err)
	}
	record, found, err := s.store.First(ctx, key.OwnerID, ByName(key.Name), ByState(AuthorizationStateActive))
	if err != nil {
		return Authorization{}, s.mapError(err)
	}
	if !found {
		return Authorization{}, s.mapError(fmt.Errorf("%w: authorization %s", ErrInactiveAuthorization, key))
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, key RecordKey) (Authorization, error) {
	key = key.Normalize()
	if err := s.requireCollaborators(key, false); err != nil {
		return Authorization{}, s.mapError(err)
	}
	record, err := s.store.FirstOrFail(ctx, key.OwnerID, ByName(key.Name))
	if err != nil {
		return Authorization{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, ownerID string, filters ...Filter) ([]Authorization, error) {
	if s == nil || s.store == nil {
		return nil, s.mapError(fmt.Errorf("core: authorization store is required"))
	}
	records, err := s.store.List(ctx, ownerID, append([]Filter{AnyName()}, filters...)...)
	if err != nil {
		return nil, s.mapError(err)
	}
	return records, nil
}

// FindDuplicates lists other authorizations bound to the same provider
// account as the one addressed by key.
func (s *Service) FindDuplicates(ctx context.Context, key RecordKey) ([]Authorization, error) {
	record, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	duplicates, err := s.duplicatesOf(ctx, record)
	if err != nil {
		return nil, s.mapError(err)
	}
	return duplicates, nil
}

func (s *Service) duplicatesOf(ctx context.Context, record Authorization) ([]Authorization, error) {
	subject := strings.TrimSpace(record.ProviderSubjectID)
	if subject == "" {
		return []Authorization{}, nil
	}
	matches, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := make([]Authorization, 0, len(matches))
	for _, match := range matches {
		if match.ID == record.ID {
			continue
		}
		out = append(out, match)
	}
	return out, nil
}

func (s *Service) requireCollaborators(key RecordKey, needsClient bool) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if s.store == nil {
		return fmt.Errorf("core: authorization store is required")
	}
	if needsClient && s.oauthClient == nil {
		return fmt.Errorf("core: oauth client is required")
	}
	return nil
}

func (s *Service) withRecordLock(ctx context.Context, key RecordKey, fn func(context.Context) error) error {
	if s.recordLocker == nil {
		return fn(ctx)
	}
	handle, err := s.recordLocker.Acquire(ctx, key.String(), s.config.LockTTL())
	if err != nil {
		return err
	}
	defer func() {
		_ = handle.Unlock(ctx)
	}()
	return fn(ctx)
}

func (s *Service) withRecordLockRetry(ctx context.Context, key RecordKey, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := s.withRecordLock(ctx, key, fn)
		if err == nil || !IsConflict(err) || attempt >= defaultWriteBackAttempts {
			return err
		}
		if waitErr := waitWithContext(ctx, s.backoffScheduler.NextDelay(attempt)); waitErr != nil {
			return waitErr
		}
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
