package query

import (
	"strings"

	"github.com/goliatone/go-authorizations/core"
)

const (
	TypeGetAuthorization   = "authorizations.query.get"
	TypeListAuthorizations = "authorizations.query.list"
	TypeFindDuplicates     = "authorizations.query.duplicates"
)

type GetAuthorizationMessage struct {
	Key core.RecordKey
}

func (GetAuthorizationMessage) Type() string { return TypeGetAuthorization }

func (m GetAuthorizationMessage) Validate() error {
	return validateOwner(m.Key.OwnerID)
}

// ListAuthorizationsMessage lists every authorization of an owner, optionally
// narrowed to one state.
type ListAuthorizationsMessage struct {
	OwnerID string
	State   core.AuthorizationState
}

func (ListAuthorizationsMessage) Type() string { return TypeListAuthorizations }

func (m ListAuthorizationsMessage) Validate() error {
	if err := validateOwner(m.OwnerID); err != nil {
		return err
	}
	if m.State != "" && !m.State.Valid() {
		return queryValidationError("state", "state must be one of auth, active, inactive")
	}
	return nil
}

type FindDuplicatesMessage struct {
	Key core.RecordKey
}

func (FindDuplicatesMessage) Type() string { return TypeFindDuplicates }

func (m FindDuplicatesMessage) Validate() error {
	return validateOwner(m.Key.OwnerID)
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}
