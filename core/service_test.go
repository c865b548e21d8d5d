package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newActiveService(t *testing.T, client *stubOAuthClient) (*Service, *MemoryAuthorizationStore) {
	t.Helper()
	if client.exchangeBundle.AccessToken == "" {
		client.exchangeBundle = TokenBundle{AccessToken: "tok1", RefreshToken: "ref1", LifetimeSeconds: lifetime(3600)}
	}
	svc, store, err := newTestService(client, WithClock(fixedClock(1_700_000_000)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := activate(context.Background(), svc, "7", ""); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return svc, store
}

func TestService_InitiateCompleteRevokeScenario(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{
		exchangeBundle: TokenBundle{AccessToken: "tok1", RefreshToken: "ref1", LifetimeSeconds: lifetime(3600)},
	}
	svc, _, err := newTestService(client, WithClock(fixedClock(1_700_000_000)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	initiated, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7", State: "csrf-1"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if initiated.Authorization.State != AuthorizationStatePending {
		t.Fatalf("expected pending record, got %q", initiated.Authorization.State)
	}
	if initiated.Authorization.Name != DefaultAuthorizationName {
		t.Fatalf("expected default name, got %q", initiated.Authorization.Name)
	}
	if initiated.AuthorizeURL == "" {
		t.Fatalf("expected authorize url")
	}
	if got := client.authorizeRequests[0].Scopes; len(got) != 2 || got[0] != ScopeOpenID || got[1] != ScopeEmail {
		t.Fatalf("expected baseline scopes on consent url, got %#v", got)
	}
	if client.authorizeRequests[0].State != "csrf-1" {
		t.Fatalf("expected state to be forwarded")
	}

	completed, err := svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "abc"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.State != AuthorizationStateActive {
		t.Fatalf("expected active record, got %q", completed.State)
	}
	if completed.AccessToken != "tok1" || completed.RefreshToken != "ref1" {
		t.Fatalf("unexpected tokens %#v", completed)
	}
	if completed.LifetimeSeconds == nil || *completed.LifetimeSeconds != 3480 {
		t.Fatalf("expected lifetime 3480, got %v", completed.LifetimeSeconds)
	}
	if completed.IssuedAt == nil || *completed.IssuedAt != 1_700_000_000 {
		t.Fatalf("expected issued_at from clock, got %v", completed.IssuedAt)
	}
	if client.exchangedCodes[0] != "abc" {
		t.Fatalf("expected code abc to be exchanged")
	}

	revoked, err := svc.Revoke(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revoke to report true")
	}
	record, err := svc.Get(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.State != AuthorizationStateInactive {
		t.Fatalf("expected inactive record, got %q", record.State)
	}
	if record.HasAccessToken() || record.HasRefreshToken() || record.IssuedAt != nil || record.LifetimeSeconds != nil {
		t.Fatalf("expected cleared tokens, got %#v", record)
	}
	if got := client.revoked(); len(got) != 1 || got[0] != "tok1" {
		t.Fatalf("expected remote revoke of tok1, got %#v", got)
	}
}

func TestService_InitiateMergesScopes(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	first, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7", Name: "analytics", Scopes: []string{"calendar"}})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	scopes := svc.Scopes()
	if got := scopes.Get(first.Authorization); len(got) != 3 || got[0] != "calendar" {
		t.Fatalf("expected calendar plus baseline, got %#v", got)
	}

	second, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7", Name: "analytics", AddScopes: []string{"drive"}})
	if err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	for _, scope := range []string{"calendar", "drive", ScopeOpenID, ScopeEmail} {
		if !scopes.Has(second.Authorization, scope) {
			t.Fatalf("expected %q to survive re-initiate, got %s", scope, second.Authorization.RawScopes)
		}
	}
	if second.Authorization.ID != first.Authorization.ID {
		t.Fatalf("expected re-initiate to reuse the record")
	}
}

func TestService_InitiateUsesConfiguredDefaults(t *testing.T) {
	ctx := context.Background()
	runtime := DefaultConfig()
	runtime.DefaultScopes = []string{"https://www.googleapis.com/auth/analytics.readonly"}
	svc, err := NewService(runtime,
		WithOAuthClient(&stubOAuthClient{}),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !svc.Scopes().Has(result.Authorization, "https://www.googleapis.com/auth/analytics.readonly") {
		t.Fatalf("expected configured default scope, got %s", result.Authorization.RawScopes)
	}
}

func TestService_InitiateRevokesActiveAuthorization(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.revokeErr = errors.New("google unavailable")
	result, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7"})
	if err != nil {
		t.Fatalf("expected revoke failure to be non-fatal, got %v", err)
	}
	if result.RevokeError == nil || !IsRevokeFailed(result.RevokeError) {
		t.Fatalf("expected revoke failure to be reported, got %v", result.RevokeError)
	}
	if result.Authorization.State != AuthorizationStatePending {
		t.Fatalf("expected pending record, got %q", result.Authorization.State)
	}
	if result.Authorization.HasAccessToken() || result.Authorization.HasRefreshToken() {
		t.Fatalf("expected pending record to carry no tokens")
	}
	if got := client.revoked(); len(got) != 1 || got[0] != "tok1" {
		t.Fatalf("expected active token to be revoked remotely, got %#v", got)
	}
}

func TestService_CompleteRequiresPendingRecord(t *testing.T) {
	ctx := context.Background()
	svc, _, err := newTestService(&stubOAuthClient{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "abc"})
	if !IsNotFound(err) {
		t.Fatalf("expected not found without initiate, got %v", err)
	}

	_, err = svc.Complete(ctx, CompleteRequest{OwnerID: "7"})
	if err == nil {
		t.Fatalf("expected empty code to be rejected")
	}
}

func TestService_CompleteOnActiveRecordIsNotFound(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)
	_, err := svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "again"})
	if !IsNotFound(err) {
		t.Fatalf("expected not found for active record, got %v", err)
	}
}

func TestService_CompleteExchangeFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{exchangeErr: errors.New("invalid_grant")}
	svc, _, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7"}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "bad"})
	if !IsExchangeFailed(err) {
		t.Fatalf("expected exchange failed, got %v", err)
	}
	record, err := svc.Get(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.State != AuthorizationStatePending || record.HasAccessToken() {
		t.Fatalf("expected record to stay pending and empty, got %#v", record)
	}
}

func TestService_CompleteRecordsIdentityAndDuplicates(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{
		exchangeBundle: TokenBundle{AccessToken: "tok1", RefreshToken: "ref1"},
		identity:       Identity{SubjectID: "sub-1", Email: "a@example.com"},
		identOK:        true,
	}
	svc, _, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	for _, owner := range []string{"7", "8"} {
		completed, err := activate(ctx, svc, owner, "")
		if err != nil {
			t.Fatalf("activate %s: %v", owner, err)
		}
		if completed.ProviderSubjectID != "sub-1" || completed.ProviderEmail != "a@example.com" {
			t.Fatalf("expected identity to be recorded, got %#v", completed)
		}
	}
	duplicates, err := svc.FindDuplicates(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}
	if len(duplicates) != 1 || duplicates[0].OwnerID != "8" {
		t.Fatalf("expected owner 8 as duplicate, got %#v", duplicates)
	}
}

func TestService_CompleteIdentityFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{
		exchangeBundle: TokenBundle{AccessToken: "tok1"},
		identErr:       errors.New("userinfo down"),
	}
	svc, _, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	completed, err := activate(ctx, svc, "7", "")
	if err != nil {
		t.Fatalf("expected identity failure to be tolerated, got %v", err)
	}
	if completed.ProviderSubjectID != "" {
		t.Fatalf("expected no subject id, got %q", completed.ProviderSubjectID)
	}
}

func TestService_ConcurrentCompleteYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{
		exchangeBundle: TokenBundle{AccessToken: "tok1", RefreshToken: "ref1"},
		exchangeGate:   make(chan struct{}),
		exchangeEnter:  make(chan struct{}),
	}
	svc, store, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7"}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "abc"})
	}()

	<-client.exchangeEnter
	_, secondErr := svc.Complete(ctx, CompleteRequest{OwnerID: "7", Code: "abc"})
	close(client.exchangeGate)
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("expected first writer to win, got %v", firstErr)
	}
	if !IsConflict(secondErr) {
		t.Fatalf("expected second writer to get conflict, got %v", secondErr)
	}
	records, err := store.List(ctx, "7", AnyName())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].State != AuthorizationStateActive {
		t.Fatalf("expected exactly one active record, got %#v", records)
	}
}

func TestService_RefreshRenewsAccessToken(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.refreshBundles = []TokenBundle{{AccessToken: "tok2", LifetimeSeconds: lifetime(1800), IssuedAt: 1_700_000_500}}
	refreshed, err := svc.Refresh(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed {
		t.Fatalf("expected refresh to report true")
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.AccessToken != "tok2" || record.RefreshToken != "ref1" {
		t.Fatalf("expected new access token and preserved refresh token, got %#v", record)
	}
	if *record.LifetimeSeconds != 1680 || *record.IssuedAt != 1_700_000_500 {
		t.Fatalf("unexpected timing fields %d/%d", *record.LifetimeSeconds, *record.IssuedAt)
	}
	if record.State != AuthorizationStateActive {
		t.Fatalf("expected state unchanged, got %q", record.State)
	}
}

func TestService_RefreshWithoutRecordReportsFalse(t *testing.T) {
	svc, _, err := newTestService(&stubOAuthClient{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	refreshed, err := svc.Refresh(context.Background(), NewRecordKey("7", ""))
	if err != nil || refreshed {
		t.Fatalf("expected (false, nil), got (%v, %v)", refreshed, err)
	}
}

func TestService_RefreshFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.refreshErr = errors.New("invalid_grant")
	_, err := svc.Refresh(ctx, NewRecordKey("7", ""))
	if !IsRefreshFailed(err) {
		t.Fatalf("expected refresh failed, got %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.State != AuthorizationStateActive || record.AccessToken != "tok1" {
		t.Fatalf("expected record untouched, got %#v", record)
	}
}

func TestService_RevokeWithoutActiveRecordReportsFalse(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _, err := newTestService(client)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7"}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	revoked, err := svc.Revoke(ctx, NewRecordKey("7", ""))
	if err != nil || revoked {
		t.Fatalf("expected (false, nil) for pending record, got (%v, %v)", revoked, err)
	}
	if len(client.revoked()) != 0 {
		t.Fatalf("expected no remote revoke call")
	}
}

func TestService_RevokeRemoteFailureStillDeactivates(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.revokeErr = errors.New("google unavailable")
	revoked, err := svc.Revoke(ctx, NewRecordKey("7", ""))
	if !revoked {
		t.Fatalf("expected local revoke to be reported")
	}
	if !IsRevokeFailed(err) {
		t.Fatalf("expected revoke failed, got %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.State != AuthorizationStateInactive || record.HasAccessToken() {
		t.Fatalf("expected inactive cleared record, got %#v", record)
	}
}

func TestService_HealthCheckHealthyToken(t *testing.T) {
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)
	if err := svc.HealthCheck(context.Background(), NewRecordKey("7", "")); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if len(client.probedTokens) != 1 || client.probedTokens[0] != "tok1" {
		t.Fatalf("expected single probe with tok1, got %#v", client.probedTokens)
	}
}

func TestService_HealthCheckRecoversWithRefresh(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.probeErrs = []error{fmt.Errorf("%w: 401", ErrProviderUnauthorized), nil}
	client.refreshBundles = []TokenBundle{{AccessToken: "tok2"}}
	if err := svc.HealthCheck(ctx, NewRecordKey("7", "")); err != nil {
		t.Fatalf("expected recovery after refresh, got %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.State != AuthorizationStateActive || record.AccessToken != "tok2" {
		t.Fatalf("expected refreshed active record, got %#v", record)
	}
	if len(client.probedTokens) != 2 || client.probedTokens[1] != "tok2" {
		t.Fatalf("expected retry with refreshed token, got %#v", client.probedTokens)
	}
}

func TestService_HealthCheckDeactivatesAfterFailedRetry(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.probeErrs = []error{
		fmt.Errorf("%w: 401", ErrProviderUnauthorized),
		fmt.Errorf("%w: 401", ErrProviderUnauthorized),
	}
	client.refreshBundles = []TokenBundle{{AccessToken: "tok2"}}
	err := svc.HealthCheck(ctx, NewRecordKey("7", ""))
	if !IsProviderUnauthorized(err) {
		t.Fatalf("expected original unauthorized failure, got %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.State != AuthorizationStateInactive || record.HasAccessToken() || record.HasRefreshToken() {
		t.Fatalf("expected inactive cleared record, got %#v", record)
	}

	err = svc.HealthCheck(ctx, NewRecordKey("7", ""))
	if !IsInactiveAuthorization(err) {
		t.Fatalf("expected inactive authorization on second check, got %v", err)
	}
	refreshed, err := svc.Refresh(ctx, NewRecordKey("7", ""))
	if err != nil || refreshed {
		t.Fatalf("expected refresh of inactive record to be a no-op, got (%v, %v)", refreshed, err)
	}
}

func TestService_HealthCheckNonAuthFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	client.probeErrs = []error{errors.New("connection reset")}
	if err := svc.HealthCheck(ctx, NewRecordKey("7", "")); err == nil {
		t.Fatalf("expected probe failure")
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.State != AuthorizationStateActive {
		t.Fatalf("expected transient failure to keep record active, got %q", record.State)
	}
}

func TestService_HTTPClientWritesBackRefreshedToken(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)

	if _, err := svc.HTTPClient(ctx, NewRecordKey("7", "")); err != nil {
		t.Fatalf("http client: %v", err)
	}
	if client.onRefresh == nil {
		t.Fatalf("expected refresh hook to be installed")
	}
	if err := client.onRefresh(ctx, TokenBundle{AccessToken: "tok3", LifetimeSeconds: lifetime(3600)}); err != nil {
		t.Fatalf("write back: %v", err)
	}
	bundle, err := svc.TokenBundle(ctx, NewRecordKey("7", ""))
	if err != nil {
		t.Fatalf("token bundle: %v", err)
	}
	if bundle.AccessToken != "tok3" || bundle.RefreshToken != "ref1" {
		t.Fatalf("expected written back token, got %#v", bundle)
	}
}

func TestService_HTTPClientRequiresActiveRecord(t *testing.T) {
	svc, _, err := newTestService(&stubOAuthClient{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.HTTPClient(context.Background(), NewRecordKey("7", "")); !IsInactiveAuthorization(err) {
		t.Fatalf("expected inactive authorization, got %v", err)
	}
}

type flakyLocker struct {
	inner    RecordLocker
	mu       sync.Mutex
	failures int
	attempts int
}

func (l *flakyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error) {
	l.mu.Lock()
	l.attempts++
	fail := l.attempts <= l.failures
	l.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: lock already held for authorization %q", ErrConflict, key)
	}
	return l.inner.Acquire(ctx, key, ttl)
}

func TestService_StoreRefreshedTokenRetriesLock(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	locker := &flakyLocker{inner: NewMemoryRecordLocker()}
	client.exchangeBundle = TokenBundle{AccessToken: "tok1", RefreshToken: "ref1"}
	svc, _, err := newTestService(client, WithRecordLocker(locker))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := activate(ctx, svc, "7", ""); err != nil {
		t.Fatalf("activate: %v", err)
	}

	locker.mu.Lock()
	locker.failures = locker.attempts + 2
	locker.mu.Unlock()

	if err := svc.StoreRefreshedToken(ctx, NewRecordKey("7", ""), TokenBundle{AccessToken: "tok2"}); err != nil {
		t.Fatalf("store refreshed token: %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.AccessToken != "tok2" {
		t.Fatalf("expected write back after retries, got %q", record.AccessToken)
	}
}

func TestService_StoreRefreshedTokenRefusesInactiveRecord(t *testing.T) {
	ctx := context.Background()
	client := &stubOAuthClient{}
	svc, _ := newActiveService(t, client)
	if _, err := svc.Revoke(ctx, NewRecordKey("7", "")); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err := svc.StoreRefreshedToken(ctx, NewRecordKey("7", ""), TokenBundle{AccessToken: "tok2"})
	if !IsInactiveAuthorization(err) {
		t.Fatalf("expected inactive authorization, got %v", err)
	}
	record, _ := svc.Get(ctx, NewRecordKey("7", ""))
	if record.HasAccessToken() {
		t.Fatalf("expected revoked record to stay empty")
	}
}

func TestService_ListReturnsAllNamesForOwner(t *testing.T) {
	ctx := context.Background()
	svc, _, err := newTestService(&stubOAuthClient{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	for _, name := range []string{"", "analytics"} {
		if _, err := svc.Initiate(ctx, InitiateRequest{OwnerID: "7", Name: name}); err != nil {
			t.Fatalf("initiate %q: %v", name, err)
		}
	}
	records, err := svc.List(ctx, "7")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two authorizations, got %d", len(records))
	}
	pending, err := svc.List(ctx, "7", ByState(AuthorizationStateActive))
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no active authorizations, got %d", len(pending))
	}
}
