package command

import (
	"context"

	"github.com/goliatone/go-authorizations/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResult, error)
	Complete(ctx context.Context, req core.CompleteRequest) (core.Authorization, error)
	Revoke(ctx context.Context, key core.RecordKey) (bool, error)
	Refresh(ctx context.Context, key core.RecordKey) (bool, error)
	HealthCheck(ctx context.Context, key core.RecordKey) error
}

type InitiateCommand struct {
	service MutatingService
}

func NewInitiateCommand(service MutatingService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCommand struct {
	service MutatingService
}

func NewCompleteCommand(service MutatingService) *CompleteCommand {
	return &CompleteCommand{service: service}
}

// Execute stores the activated authorization with its tokens redacted.
func (c *CompleteCommand) Execute(ctx context.Context, msg CompleteMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete service is required")
	}
	out, err := c.service.Complete(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out.Redacted())
	return nil
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	revoked, err := c.service.Revoke(ctx, msg.Key)
	if err != nil {
		return err
	}
	storeResult(ctx, revoked)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	refreshed, err := c.service.Refresh(ctx, msg.Key)
	if err != nil {
		return err
	}
	storeResult(ctx, refreshed)
	return nil
}

type HealthCheckCommand struct {
	service MutatingService
}

func NewHealthCheckCommand(service MutatingService) *HealthCheckCommand {
	return &HealthCheckCommand{service: service}
}

func (c *HealthCheckCommand) Execute(ctx context.Context, msg HealthCheckMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: health check service is required")
	}
	return c.service.HealthCheck(ctx, msg.Key)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
