package query

import (
	"context"

	"github.com/goliatone/go-authorizations/core"
)

// Reader is the read side of the authorization service. Query results are
// always redacted before they leave this package.
type Reader interface {
	Get(ctx context.Context, key core.RecordKey) (core.Authorization, error)
	List(ctx context.Context, ownerID string, filters ...core.Filter) ([]core.Authorization, error)
	FindDuplicates(ctx context.Context, key core.RecordKey) ([]core.Authorization, error)
}

type GetAuthorizationQuery struct {
	reader Reader
}

func NewGetAuthorizationQuery(reader Reader) *GetAuthorizationQuery {
	return &GetAuthorizationQuery{reader: reader}
}

func (q *GetAuthorizationQuery) Query(ctx context.Context, msg GetAuthorizationMessage) (core.Authorization, error) {
	if q == nil || q.reader == nil {
		return core.Authorization{}, queryDependencyError("query: authorization reader is required")
	}
	record, err := q.reader.Get(ctx, msg.Key)
	if err != nil {
		return core.Authorization{}, err
	}
	return record.Redacted(), nil
}

type ListAuthorizationsQuery struct {
	reader Reader
}

func NewListAuthorizationsQuery(reader Reader) *ListAuthorizationsQuery {
	return &ListAuthorizationsQuery{reader: reader}
}

func (q *ListAuthorizationsQuery) Query(ctx context.Context, msg ListAuthorizationsMessage) ([]core.Authorization, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: authorization reader is required")
	}
	var filters []core.Filter
	if msg.State != "" {
		filters = append(filters, core.ByState(msg.State))
	}
	records, err := q.reader.List(ctx, msg.OwnerID, filters...)
	if err != nil {
		return nil, err
	}
	return redactAll(records), nil
}

type FindDuplicatesQuery struct {
	reader Reader
}

func NewFindDuplicatesQuery(reader Reader) *FindDuplicatesQuery {
	return &FindDuplicatesQuery{reader: reader}
}

func (q *FindDuplicatesQuery) Query(ctx context.Context, msg FindDuplicatesMessage) ([]core.Authorization, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: authorization reader is required")
	}
	records, err := q.reader.FindDuplicates(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	return redactAll(records), nil
}

func redactAll(records []core.Authorization) []core.Authorization {
	out := make([]core.Authorization, len(records))
	for i, record := range records {
		out[i] = record.Redacted()
	}
	return out
}
