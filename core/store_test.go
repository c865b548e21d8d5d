package core

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryAuthorizationStore_CreateEnforcesUniqueKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuthorizationStore()

	created, err := store.Create(ctx, NewAuthorization(NewRecordKey("7", "")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Version != 1 || created.State != AuthorizationStatePending {
		t.Fatalf("unexpected created record %#v", created)
	}

	_, err = store.Create(ctx, NewAuthorization(NewRecordKey("7", "default")))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate key conflict, got %v", err)
	}

	if _, err := store.Create(ctx, NewAuthorization(NewRecordKey("7", "analytics"))); err != nil {
		t.Fatalf("expected second name for same owner to be allowed: %v", err)
	}
}

func TestMemoryAuthorizationStore_FiltersDefaultName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuthorizationStore()
	for _, name := range []string{"default", "analytics"} {
		if _, err := store.Create(ctx, NewAuthorization(NewRecordKey("7", name))); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	record, found, err := store.First(ctx, "7")
	if err != nil || !found {
		t.Fatalf("expected default record, found=%v err=%v", found, err)
	}
	if record.Name != DefaultAuthorizationName {
		t.Fatalf("expected default name filter, got %q", record.Name)
	}

	all, err := store.List(ctx, "7", AnyName())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two records for owner, got %d", len(all))
	}

	_, found, err = store.First(ctx, "7", ByName("analytics"), ByState(AuthorizationStateActive))
	if err != nil || found {
		t.Fatalf("expected state filter to exclude pending record, found=%v err=%v", found, err)
	}

	if _, err := store.FirstOrFail(ctx, "8"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown owner, got %v", err)
	}
	if _, err := store.List(ctx, "7", ByState("bogus")); err == nil {
		t.Fatalf("expected invalid state filter to fail")
	}
}

func TestMemoryAuthorizationStore_UpdateCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuthorizationStore()
	created, err := store.Create(ctx, NewAuthorization(NewRecordKey("7", "")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	next := created.Clone()
	next.State = AuthorizationStateActive
	next.AccessToken = "tok1"
	updated, err := store.Update(ctx, next, PreconditionFor(created))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	stale := created.Clone()
	stale.State = AuthorizationStateInactive
	if _, err := store.Update(ctx, stale, PreconditionFor(created)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected stale precondition conflict, got %v", err)
	}

	current, _ := store.FirstOrFail(ctx, "7")
	if current.AccessToken != "tok1" || current.State != AuthorizationStateActive {
		t.Fatalf("expected losing writer to leave record untouched, got %#v", current)
	}

	missing := Authorization{ID: "missing"}
	if _, err := store.Update(ctx, missing, Precondition{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}
}

func TestMemoryAuthorizationStore_ListBySubject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuthorizationStore()
	for _, owner := range []string{"7", "8"} {
		created, err := store.Create(ctx, NewAuthorization(NewRecordKey(owner, "")))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		created.ProviderSubjectID = "sub-1"
		if _, err := store.Update(ctx, created, PreconditionFor(created)); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	matches, err := store.ListBySubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("list by subject: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected subject to be shared by two owners, got %d", len(matches))
	}
	if _, err := store.ListBySubject(ctx, " "); err == nil {
		t.Fatalf("expected blank subject to fail")
	}
}
