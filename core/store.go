package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Query narrows a lookup within one owner. Name defaults to the default
// authorization name unless AnyName is set.
type Query struct {
	OwnerID   string
	Name      string
	AnyName   bool
	State     AuthorizationState
	SubjectID string
}

type Filter func(*Query)

func ByName(name string) Filter {
	return func(q *Query) {
		q.Name = name
		q.AnyName = false
	}
}

func ByState(state AuthorizationState) Filter {
	return func(q *Query) {
		q.State = state
	}
}

func AnyName() Filter {
	return func(q *Query) {
		q.AnyName = true
	}
}

func BySubject(subjectID string) Filter {
	return func(q *Query) {
		q.SubjectID = strings.TrimSpace(subjectID)
	}
}

func BuildQuery(ownerID string, filters ...Filter) (Query, error) {
	q := Query{OwnerID: strings.TrimSpace(ownerID)}
	for _, filter := range filters {
		if filter == nil {
			continue
		}
		filter(&q)
	}
	if q.OwnerID == "" {
		return Query{}, fmt.Errorf("core: owner id is required")
	}
	if q.State != "" && !q.State.Valid() {
		return Query{}, fmt.Errorf("core: invalid authorization state %q", q.State)
	}
	if !q.AnyName {
		q.Name = normalizeName(q.Name)
	}
	return q, nil
}

func (q Query) Matches(record Authorization) bool {
	if strings.TrimSpace(record.OwnerID) != q.OwnerID {
		return false
	}
	if !q.AnyName && record.Name != q.Name {
		return false
	}
	if q.State != "" && record.State != q.State {
		return false
	}
	if q.SubjectID != "" && record.ProviderSubjectID != q.SubjectID {
		return false
	}
	return true
}

// MemoryAuthorizationStore keeps records in process. It applies the same
// uniqueness and compare-and-swap rules as the SQL store.
type MemoryAuthorizationStore struct {
	mu    sync.Mutex
	byID  map[string]Authorization
	nowFn func() time.Time
}

func NewMemoryAuthorizationStore() *MemoryAuthorizationStore {
	return &MemoryAuthorizationStore{
		byID:  map[string]Authorization{},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryAuthorizationStore) First(ctx context.Context, ownerID string, filters ...Filter) (Authorization, bool, error) {
	records, err := s.List(ctx, ownerID, filters...)
	if err != nil {
		return Authorization{}, false, err
	}
	if len(records) == 0 {
		return Authorization{}, false, nil
	}
	return records[0], true, nil
}

func (s *MemoryAuthorizationStore) FirstOrFail(ctx context.Context, ownerID string, filters ...Filter) (Authorization, error) {
	record, found, err := s.First(ctx, ownerID, filters...)
	if err != nil {
		return Authorization{}, err
	}
	if !found {
		return Authorization{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryAuthorizationStore) List(_ context.Context, ownerID string, filters ...Filter) ([]Authorization, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory authorization store is nil")
	}
	q, err := BuildQuery(ownerID, filters...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Authorization, 0)
	for _, record := range s.byID {
		if q.Matches(record) {
			out = append(out, record.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryAuthorizationStore) ListBySubject(_ context.Context, subjectID string) ([]Authorization, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory authorization store is nil")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("core: provider subject id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Authorization, 0)
	for _, record := range s.byID {
		if record.ProviderSubjectID == subjectID {
			out = append(out, record.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryAuthorizationStore) Create(_ context.Context, record Authorization) (Authorization, error) {
	if s == nil {
		return Authorization{}, fmt.Errorf("core: memory authorization store is nil")
	}
	key := record.Key()
	if err := key.Validate(); err != nil {
		return Authorization{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Key() == key {
			return Authorization{}, fmt.Errorf("%w: authorization %s already exists", ErrConflict, key)
		}
	}
	now := s.nowFn()
	record = record.Clone()
	record.OwnerID = key.OwnerID
	record.Name = key.Name
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.State == "" {
		record.State = AuthorizationStatePending
	}
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	s.byID[record.ID] = record
	return record.Clone(), nil
}

func (s *MemoryAuthorizationStore) Update(_ context.Context, record Authorization, expected Precondition) (Authorization, error) {
	if s == nil {
		return Authorization{}, fmt.Errorf("core: memory authorization store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[strings.TrimSpace(record.ID)]
	if !ok {
		return Authorization{}, ErrNotFound
	}
	if current.State != expected.State || current.Version != expected.Version {
		return Authorization{}, fmt.Errorf(
			"%w: authorization %s changed (state %s version %d)",
			ErrConflict,
			current.Key(),
			current.State,
			current.Version,
		)
	}
	record = record.Clone()
	record.OwnerID = current.OwnerID
	record.Name = current.Name
	record.CreatedAt = current.CreatedAt
	record.Version = current.Version + 1
	record.UpdatedAt = s.nowFn()
	s.byID[record.ID] = record
	return record.Clone(), nil
}

func sortByID(records []Authorization) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}
