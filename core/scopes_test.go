package core

import (
	"reflect"
	"testing"
)

func TestScopeSet_SetAppendsBaseline(t *testing.T) {
	scopes := NewScopeSet(DefaultBaselineScopes())
	var record Authorization

	scopes.Set(&record, []string{"calendar"})
	if got := scopes.Get(record); !reflect.DeepEqual(got, []string{"calendar", "openid", "email"}) {
		t.Fatalf("unexpected scopes %#v", got)
	}
	if record.RawScopes != `["calendar","openid","email"]` {
		t.Fatalf("unexpected raw scopes %q", record.RawScopes)
	}
}

func TestScopeSet_AddDeduplicates(t *testing.T) {
	scopes := NewScopeSet(DefaultBaselineScopes())
	var record Authorization
	scopes.Set(&record, []string{"calendar"})

	scopes.Add(&record, "calendar", " drive ")
	if got := scopes.Get(record); !reflect.DeepEqual(got, []string{"calendar", "openid", "email", "drive"}) {
		t.Fatalf("unexpected scopes after add %#v", got)
	}
	if !scopes.Has(record, "drive") || scopes.Has(record, "gmail") {
		t.Fatalf("unexpected membership result")
	}
}

func TestScopeSet_GetToleratesBadData(t *testing.T) {
	scopes := NewScopeSet(DefaultBaselineScopes())
	if got := scopes.Get(Authorization{}); len(got) != 0 {
		t.Fatalf("expected empty scopes for empty record, got %#v", got)
	}
	if got := scopes.Get(Authorization{RawScopes: "not-json"}); len(got) != 0 {
		t.Fatalf("expected empty scopes for invalid data, got %#v", got)
	}
}

func TestScopeSet_EmptySetStillHasBaseline(t *testing.T) {
	scopes := NewScopeSet(DefaultBaselineScopes())
	var record Authorization
	scopes.Set(&record, nil)
	if got := scopes.Get(record); !reflect.DeepEqual(got, []string{"openid", "email"}) {
		t.Fatalf("expected baseline only, got %#v", got)
	}
}
