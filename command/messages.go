package command

import (
	"strings"

	"github.com/goliatone/go-authorizations/core"
)

const (
	TypeInitiate    = "authorizations.command.initiate"
	TypeComplete    = "authorizations.command.complete"
	TypeRevoke      = "authorizations.command.revoke"
	TypeRefresh     = "authorizations.command.refresh"
	TypeHealthCheck = "authorizations.command.health_check"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	return validateOwner(m.Request.OwnerID)
}

type CompleteMessage struct {
	Request core.CompleteRequest
}

func (CompleteMessage) Type() string { return TypeComplete }

func (m CompleteMessage) Validate() error {
	if err := validateOwner(m.Request.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type RevokeMessage struct {
	Key core.RecordKey
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	return validateOwner(m.Key.OwnerID)
}

type RefreshMessage struct {
	Key core.RecordKey
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	return validateOwner(m.Key.OwnerID)
}

type HealthCheckMessage struct {
	Key core.RecordKey
}

func (HealthCheckMessage) Type() string { return TypeHealthCheck }

func (m HealthCheckMessage) Validate() error {
	return validateOwner(m.Key.OwnerID)
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}
