package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-authorizations/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubReader struct {
	getFn        func(context.Context, core.RecordKey) (core.Authorization, error)
	listFn       func(context.Context, string, ...core.Filter) ([]core.Authorization, error)
	duplicatesFn func(context.Context, core.RecordKey) ([]core.Authorization, error)
}

func (s stubReader) Get(ctx context.Context, key core.RecordKey) (core.Authorization, error) {
	return s.getFn(ctx, key)
}

func (s stubReader) List(ctx context.Context, ownerID string, filters ...core.Filter) ([]core.Authorization, error) {
	return s.listFn(ctx, ownerID, filters...)
}

func (s stubReader) FindDuplicates(ctx context.Context, key core.RecordKey) ([]core.Authorization, error) {
	return s.duplicatesFn(ctx, key)
}

func activeRecord(ownerID string, name string, subject string) core.Authorization {
	record := core.NewAuthorization(core.NewRecordKey(ownerID, name))
	record.ID = fmt.Sprintf("%s-%s", ownerID, record.Name)
	record.State = core.AuthorizationStateActive
	record.AccessToken = "tok_" + ownerID
	record.RefreshToken = "ref_" + ownerID
	record.ProviderSubjectID = subject
	return record
}

func TestGetAuthorizationQuery_RedactsTokens(t *testing.T) {
	key := core.NewRecordKey("7", "")
	reader := stubReader{
		getFn: func(_ context.Context, got core.RecordKey) (core.Authorization, error) {
			if got != key {
				t.Fatalf("unexpected key %#v", got)
			}
			return activeRecord("7", "", "sub-1"), nil
		},
	}

	result, err := NewGetAuthorizationQuery(reader).Query(context.Background(), GetAuthorizationMessage{Key: key})
	if err != nil {
		t.Fatalf("query authorization: %v", err)
	}
	if result.AccessToken != core.RedactedValue || result.RefreshToken != core.RedactedValue {
		t.Fatalf("expected redacted tokens, got %q %q", result.AccessToken, result.RefreshToken)
	}
	if result.ProviderSubjectID != "sub-1" {
		t.Fatalf("expected subject to survive redaction, got %q", result.ProviderSubjectID)
	}
}

func TestGetAuthorizationQuery_PropagatesNotFound(t *testing.T) {
	reader := stubReader{
		getFn: func(context.Context, core.RecordKey) (core.Authorization, error) {
			return core.Authorization{}, core.ErrNotFound
		},
	}
	_, err := NewGetAuthorizationQuery(reader).Query(context.Background(), GetAuthorizationMessage{Key: core.NewRecordKey("7", "")})
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAuthorizationsQuery_AppliesStateFilter(t *testing.T) {
	reader := stubReader{
		listFn: func(_ context.Context, ownerID string, filters ...core.Filter) ([]core.Authorization, error) {
			q, err := core.BuildQuery(ownerID, filters...)
			if err != nil {
				t.Fatalf("build query: %v", err)
			}
			if q.State != core.AuthorizationStateActive {
				t.Fatalf("expected active state filter, got %q", q.State)
			}
			return []core.Authorization{activeRecord("7", "", ""), activeRecord("7", "drive", "")}, nil
		},
	}

	records, err := NewListAuthorizationsQuery(reader).Query(context.Background(), ListAuthorizationsMessage{
		OwnerID: "7",
		State:   core.AuthorizationStateActive,
	})
	if err != nil {
		t.Fatalf("list authorizations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	for _, record := range records {
		if record.AccessToken != core.RedactedValue {
			t.Fatalf("expected redacted listing, got %q", record.AccessToken)
		}
	}
}

func TestListAuthorizationsQuery_NoStateSendsNoFilter(t *testing.T) {
	reader := stubReader{
		listFn: func(_ context.Context, _ string, filters ...core.Filter) ([]core.Authorization, error) {
			if len(filters) != 0 {
				t.Fatalf("expected no filters, got %d", len(filters))
			}
			return nil, nil
		},
	}
	records, err := NewListAuthorizationsQuery(reader).Query(context.Background(), ListAuthorizationsMessage{OwnerID: "7"})
	if err != nil {
		t.Fatalf("list authorizations: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty listing, got %d", len(records))
	}
}

func TestFindDuplicatesQuery_RedactsMatches(t *testing.T) {
	reader := stubReader{
		duplicatesFn: func(_ context.Context, key core.RecordKey) ([]core.Authorization, error) {
			if key.OwnerID != "7" {
				t.Fatalf("unexpected owner %q", key.OwnerID)
			}
			return []core.Authorization{activeRecord("9", "", "sub-1")}, nil
		},
	}
	records, err := NewFindDuplicatesQuery(reader).Query(context.Background(), FindDuplicatesMessage{Key: core.NewRecordKey("7", "")})
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if len(records) != 1 || records[0].OwnerID != "9" {
		t.Fatalf("unexpected duplicates %#v", records)
	}
	if records[0].RefreshToken != core.RedactedValue {
		t.Fatalf("expected redacted duplicate")
	}
}

func TestFindDuplicatesQuery_AgainstService(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryAuthorizationStore()
	for _, owner := range []string{"7", "9"} {
		record := core.NewAuthorization(core.NewRecordKey(owner, ""))
		created, err := store.Create(ctx, record)
		if err != nil {
			t.Fatalf("seed %s: %v", owner, err)
		}
		next := created.Clone()
		next.State = core.AuthorizationStateActive
		next.AccessToken = "tok_" + owner
		next.ProviderSubjectID = "sub-1"
		if _, err := store.Update(ctx, next, core.PreconditionFor(created)); err != nil {
			t.Fatalf("activate %s: %v", owner, err)
		}
	}
	svc, err := core.NewService(core.DefaultConfig(), core.WithAuthorizationStore(store))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	records, err := NewFindDuplicatesQuery(svc).Query(ctx, FindDuplicatesMessage{Key: core.NewRecordKey("7", "")})
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if len(records) != 1 || records[0].OwnerID != "9" {
		t.Fatalf("expected owner 9 as the only duplicate, got %#v", records)
	}
}

func TestMessages_ValidateReturnRichErrors(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"get":        GetAuthorizationMessage{},
		"list":       ListAuthorizationsMessage{},
		"list_state": ListAuthorizationsMessage{OwnerID: "7", State: core.AuthorizationState("pending")},
		"duplicates": FindDuplicatesMessage{Key: core.NewRecordKey(" ", "")},
	}
	for name, msg := range cases {
		err := msg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.TextCode != core.ServiceErrorBadInput {
			t.Fatalf("%s: expected %q text code, got %q", name, core.ServiceErrorBadInput, rich.TextCode)
		}
	}
}

func TestQuery_NilReaderReturnsRichError(t *testing.T) {
	_, err := NewListAuthorizationsQuery(nil).Query(context.Background(), ListAuthorizationsMessage{OwnerID: "7"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
