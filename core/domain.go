package core

import (
	"fmt"
	"strings"
	"time"
)

const DefaultAuthorizationName = "default"

type AuthorizationState string

const (
	AuthorizationStatePending  AuthorizationState = "auth"
	AuthorizationStateActive   AuthorizationState = "active"
	AuthorizationStateInactive AuthorizationState = "inactive"
)

func (s AuthorizationState) Valid() bool {
	switch s {
	case AuthorizationStatePending, AuthorizationStateActive, AuthorizationStateInactive:
		return true
	default:
		return false
	}
}

func (s AuthorizationState) String() string {
	return string(s)
}

// RecordKey addresses one authorization: an owner plus a name.
type RecordKey struct {
	OwnerID string
	Name    string
}

func NewRecordKey(ownerID string, name string) RecordKey {
	return RecordKey{OwnerID: ownerID, Name: name}.Normalize()
}

func (k RecordKey) Normalize() RecordKey {
	k.OwnerID = strings.TrimSpace(k.OwnerID)
	k.Name = normalizeName(k.Name)
	return k
}

func (k RecordKey) Validate() error {
	if strings.TrimSpace(k.OwnerID) == "" {
		return fmt.Errorf("core: owner id is required")
	}
	return nil
}

func (k RecordKey) String() string {
	normalized := k.Normalize()
	return normalized.OwnerID + "/" + normalized.Name
}

type Authorization struct {
	ID                string
	OwnerID           string
	Name              string
	State             AuthorizationState
	AccessToken       string
	RefreshToken      string
	IssuedAt          *int64
	LifetimeSeconds   *int64
	RawScopes         string
	ProviderSubjectID string
	ProviderEmail     string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewAuthorization(key RecordKey) Authorization {
	key = key.Normalize()
	return Authorization{
		OwnerID: key.OwnerID,
		Name:    key.Name,
		State:   AuthorizationStatePending,
	}
}

func (a Authorization) Key() RecordKey {
	return RecordKey{OwnerID: a.OwnerID, Name: a.Name}.Normalize()
}

func (a Authorization) IsActive() bool {
	return a.State == AuthorizationStateActive
}

func (a Authorization) IsPending() bool {
	return a.State == AuthorizationStatePending
}

func (a Authorization) HasAccessToken() bool {
	return strings.TrimSpace(a.AccessToken) != ""
}

func (a Authorization) HasRefreshToken() bool {
	return strings.TrimSpace(a.RefreshToken) != ""
}

// ExpiresAt reports when the stored access token stops being usable. The
// stored lifetime already carries the safety margin.
func (a Authorization) ExpiresAt() (time.Time, bool) {
	if a.IssuedAt == nil || a.LifetimeSeconds == nil {
		return time.Time{}, false
	}
	return time.Unix(*a.IssuedAt+*a.LifetimeSeconds, 0).UTC(), true
}

func (a Authorization) IsExpired(now time.Time) bool {
	expiresAt, ok := a.ExpiresAt()
	if !ok {
		return true
	}
	return !now.Before(expiresAt)
}

// ClearTokens drops every token field so the record satisfies the
// non-active invariant.
func (a *Authorization) ClearTokens() {
	if a == nil {
		return
	}
	a.AccessToken = ""
	a.RefreshToken = ""
	a.IssuedAt = nil
	a.LifetimeSeconds = nil
}

func (a Authorization) Clone() Authorization {
	cloned := a
	cloned.IssuedAt = cloneInt64Pointer(a.IssuedAt)
	cloned.LifetimeSeconds = cloneInt64Pointer(a.LifetimeSeconds)
	return cloned
}

// Redacted returns a copy safe for listing responses and logs.
func (a Authorization) Redacted() Authorization {
	cloned := a.Clone()
	if cloned.AccessToken != "" {
		cloned.AccessToken = RedactedValue
	}
	if cloned.RefreshToken != "" {
		cloned.RefreshToken = RedactedValue
	}
	return cloned
}

// Precondition is the compare-and-swap guard applied when persisting a
// mutated record.
type Precondition struct {
	State   AuthorizationState
	Version int64
}

func PreconditionFor(record Authorization) Precondition {
	return Precondition{State: record.State, Version: record.Version}
}

type AuthorizeURLRequest struct {
	Scopes      []string
	RedirectURI string
	State       string
}

type InitiateRequest struct {
	OwnerID     string
	Name        string
	Scopes      []string
	AddScopes   []string
	RedirectURI string
	State       string
}

func (r InitiateRequest) Key() RecordKey {
	return NewRecordKey(r.OwnerID, r.Name)
}

type InitiateResult struct {
	Authorization Authorization
	AuthorizeURL  string
	// RevokeError carries the non-fatal failure of revoking a previously
	// active authorization.
	RevokeError error
}

type CompleteRequest struct {
	OwnerID     string
	Name        string
	Code        string
	RedirectURI string
}

func (r CompleteRequest) Key() RecordKey {
	return NewRecordKey(r.OwnerID, r.Name)
}

type Identity struct {
	SubjectID string
	Email     string
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultAuthorizationName
	}
	return name
}

func cloneInt64Pointer(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func int64Pointer(value int64) *int64 {
	return &value
}
