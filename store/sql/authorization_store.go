package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authorizations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type StoreOption func(*AuthorizationStore)

// WithTable stores authorizations in a table other than gapi_authorisations.
func WithTable(table string) StoreOption {
	return func(s *AuthorizationStore) {
		if trimmed := strings.TrimSpace(table); trimmed != "" {
			s.table = trimmed
		}
	}
}

// WithSecretProvider seals access and refresh tokens at rest.
func WithSecretProvider(provider core.SecretProvider) StoreOption {
	return func(s *AuthorizationStore) {
		s.secrets = provider
	}
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *AuthorizationStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

type AuthorizationStore struct {
	db      *bun.DB
	repo    repository.Repository[*authorizationRecord]
	table   string
	secrets core.SecretProvider
	nowFn   func() time.Time
}

func NewAuthorizationStore(db *bun.DB, opts ...StoreOption) (*AuthorizationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*authorizationRecord](db, authorizationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid authorization repository wiring: %w", err)
		}
	}
	store := &AuthorizationStore{
		db:    db,
		repo:  repo,
		table: core.DefaultAuthorizationTable,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store, nil
}

func (s *AuthorizationStore) Table() string {
	if s == nil {
		return ""
	}
	return s.table
}

func (s *AuthorizationStore) First(ctx context.Context, ownerID string, filters ...core.Filter) (core.Authorization, bool, error) {
	records, err := s.List(ctx, ownerID, filters...)
	if err != nil {
		return core.Authorization{}, false, err
	}
	if len(records) == 0 {
		return core.Authorization{}, false, nil
	}
	return records[0], true, nil
}

func (s *AuthorizationStore) FirstOrFail(ctx context.Context, ownerID string, filters ...core.Filter) (core.Authorization, error) {
	record, found, err := s.First(ctx, ownerID, filters...)
	if err != nil {
		return core.Authorization{}, err
	}
	if !found {
		return core.Authorization{}, core.ErrNotFound
	}
	return record, nil
}

func (s *AuthorizationStore) List(ctx context.Context, ownerID string, filters ...core.Filter) ([]core.Authorization, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: authorization store is not configured")
	}
	q, err := core.BuildQuery(ownerID, filters...)
	if err != nil {
		return nil, err
	}

	criteria := []repository.SelectCriteria{
		repository.SelectBy("owner_id", "=", q.OwnerID),
	}
	if !q.AnyName {
		criteria = append(criteria, repository.SelectBy("name", "=", q.Name))
	}
	if q.State != "" {
		criteria = append(criteria, repository.SelectBy("state", "=", string(q.State)))
	}
	if q.SubjectID != "" {
		criteria = append(criteria, repository.SelectBy("provider_subject_id", "=", q.SubjectID))
	}
	return s.list(ctx, criteria...)
}

func (s *AuthorizationStore) ListBySubject(ctx context.Context, subjectID string) ([]core.Authorization, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: authorization store is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("sqlstore: provider subject id is required")
	}
	return s.list(ctx, repository.SelectBy("provider_subject_id", "=", subjectID))
}

func (s *AuthorizationStore) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]core.Authorization, error) {
	criteria = append(criteria,
		repository.SelectRawProcessor(s.selectTable),
		repository.OrderBy("id ASC"),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Authorization, 0, len(records))
	for _, record := range records {
		authorization, convErr := s.toDomain(ctx, record)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, authorization)
	}
	return out, nil
}

func (s *AuthorizationStore) Create(ctx context.Context, in core.Authorization) (core.Authorization, error) {
	if s == nil || s.db == nil {
		return core.Authorization{}, fmt.Errorf("sqlstore: authorization store is not configured")
	}
	key := in.Key()
	if err := key.Validate(); err != nil {
		return core.Authorization{}, err
	}

	now := s.nowFn()
	in = in.Clone()
	in.OwnerID = key.OwnerID
	in.Name = key.Name
	if strings.TrimSpace(in.ID) == "" {
		in.ID = uuid.NewString()
	}
	if in.State == "" {
		in.State = core.AuthorizationStatePending
	}
	in.Version = 1
	in.CreatedAt = now
	in.UpdatedAt = now

	record, err := s.toRecord(ctx, in)
	if err != nil {
		return core.Authorization{}, err
	}
	if _, err := s.db.NewInsert().
		Model(record).
		ModelTableExpr("?", bun.Ident(s.table)).
		Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Authorization{}, fmt.Errorf("%w: authorization %s already exists", core.ErrConflict, key)
		}
		return core.Authorization{}, err
	}
	return in, nil
}

// Update writes the record only if the stored state and version still match
// expected; otherwise it reports a conflict and leaves the row untouched.
func (s *AuthorizationStore) Update(ctx context.Context, in core.Authorization, expected core.Precondition) (core.Authorization, error) {
	if s == nil || s.db == nil {
		return core.Authorization{}, fmt.Errorf("sqlstore: authorization store is not configured")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return core.Authorization{}, fmt.Errorf("sqlstore: authorization id is required")
	}

	in = in.Clone()
	in.Version = expected.Version + 1
	in.UpdatedAt = s.nowFn()

	record, err := s.toRecord(ctx, in)
	if err != nil {
		return core.Authorization{}, err
	}
	result, err := s.db.NewUpdate().
		Model(record).
		ModelTableExpr("?", bun.Ident(s.table)).
		Column(mutableAuthorizationColumns...).
		Where("id = ?", id).
		Where("state = ?", string(expected.State)).
		Where("version = ?", expected.Version).
		Exec(ctx)
	if err != nil {
		return core.Authorization{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Authorization{}, err
	}
	if affected == 0 {
		exists, existsErr := s.db.NewSelect().
			Model((*authorizationRecord)(nil)).
			ModelTableExpr("? AS ?", bun.Ident(s.table), bun.Ident(authorizationAlias)).
			Where("?TableAlias.id = ?", id).
			Exists(ctx)
		if existsErr != nil {
			return core.Authorization{}, existsErr
		}
		if !exists {
			return core.Authorization{}, core.ErrNotFound
		}
		return core.Authorization{}, fmt.Errorf(
			"%w: authorization %s changed since state %s version %d",
			core.ErrConflict,
			in.Key(),
			expected.State,
			expected.Version,
		)
	}

	return in, nil
}

func (s *AuthorizationStore) selectTable(q *bun.SelectQuery) *bun.SelectQuery {
	if s.table == core.DefaultAuthorizationTable {
		return q
	}
	return q.ModelTableExpr("? AS ?", bun.Ident(s.table), bun.Ident(authorizationAlias))
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
