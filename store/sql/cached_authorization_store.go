package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-authorizations/core"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const authorizationListCacheKeyPrefix = "go-authorizations::owner_authorizations::v1"

// CachedAuthorizationStore caches owner-wide listings. Lookups that drive the
// lifecycle (by name, state or subject) always go to the base store.
type CachedAuthorizationStore struct {
	base   core.AuthorizationStore
	cache  repositorycache.CacheService
	logger glog.Logger
}

type CachedStoreOption func(*CachedAuthorizationStore)

// WithCacheLogger receives cache invalidation failures. They are logged
// rather than returned since the write they follow has already committed.
func WithCacheLogger(logger glog.Logger) CachedStoreOption {
	return func(s *CachedAuthorizationStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewCachedAuthorizationStore(
	base core.AuthorizationStore,
	cacheService repositorycache.CacheService,
	opts ...CachedStoreOption,
) (*CachedAuthorizationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base authorization store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: authorization cache service is required")
	}
	store := &CachedAuthorizationStore{base: base, cache: cacheService, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// AuthorizationListCacheKey returns the cache key for an owner's listing:
// go-authorizations::owner_authorizations::v1::<owner_id>, path escaped.
func AuthorizationListCacheKey(ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", fmt.Errorf("sqlstore: owner id is required")
	}
	return authorizationListCacheKeyPrefix + "::" + url.PathEscape(ownerID), nil
}

func (s *CachedAuthorizationStore) First(ctx context.Context, ownerID string, filters ...core.Filter) (core.Authorization, bool, error) {
	if err := s.ready(); err != nil {
		return core.Authorization{}, false, err
	}
	return s.base.First(ctx, ownerID, filters...)
}

func (s *CachedAuthorizationStore) FirstOrFail(ctx context.Context, ownerID string, filters ...core.Filter) (core.Authorization, error) {
	if err := s.ready(); err != nil {
		return core.Authorization{}, err
	}
	return s.base.FirstOrFail(ctx, ownerID, filters...)
}

func (s *CachedAuthorizationStore) List(ctx context.Context, ownerID string, filters ...core.Filter) ([]core.Authorization, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q, err := core.BuildQuery(ownerID, filters...)
	if err != nil {
		return nil, err
	}
	if !q.AnyName || q.State != "" || q.SubjectID != "" {
		return s.base.List(ctx, ownerID, filters...)
	}

	cacheKey, err := AuthorizationListCacheKey(q.OwnerID)
	if err != nil {
		return nil, err
	}
	records, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Authorization, error) {
		fetched, fetchErr := s.base.List(ctx, q.OwnerID, core.AnyName())
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneAuthorizations(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAuthorizations(records), nil
}

func (s *CachedAuthorizationStore) ListBySubject(ctx context.Context, subjectID string) ([]core.Authorization, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.base.ListBySubject(ctx, subjectID)
}

func (s *CachedAuthorizationStore) Create(ctx context.Context, record core.Authorization) (core.Authorization, error) {
	if err := s.ready(); err != nil {
		return core.Authorization{}, err
	}
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return core.Authorization{}, err
	}
	s.invalidate(ctx, created.OwnerID)
	return created, nil
}

func (s *CachedAuthorizationStore) Update(ctx context.Context, record core.Authorization, expected core.Precondition) (core.Authorization, error) {
	if err := s.ready(); err != nil {
		return core.Authorization{}, err
	}
	updated, err := s.base.Update(ctx, record, expected)
	if err != nil {
		return core.Authorization{}, err
	}
	s.invalidate(ctx, updated.OwnerID)
	return updated, nil
}

// invalidate drops the owner's cached listing. A failure leaves a stale
// listing until the cache TTL lapses.
func (s *CachedAuthorizationStore) invalidate(ctx context.Context, ownerID string) {
	cacheKey, err := AuthorizationListCacheKey(ownerID)
	if err == nil {
		err = s.cache.Delete(ctx, cacheKey)
	}
	if err != nil {
		glog.Ensure(s.logger.WithContext(ctx)).Warn("sqlstore: authorization listing cache invalidation failed",
			"owner_id", ownerID,
			"error", err.Error(),
		)
	}
}

func (s *CachedAuthorizationStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached authorization store is not configured")
	}
	return nil
}

func cloneAuthorizations(records []core.Authorization) []core.Authorization {
	if records == nil {
		return nil
	}
	out := make([]core.Authorization, len(records))
	for i, record := range records {
		out[i] = record.Clone()
	}
	return out
}
