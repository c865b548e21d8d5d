package command

import (
	"github.com/goliatone/go-authorizations/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[InitiateMessage]    = (*InitiateCommand)(nil)
	_ gocmd.Commander[CompleteMessage]    = (*CompleteCommand)(nil)
	_ gocmd.Commander[RevokeMessage]      = (*RevokeCommand)(nil)
	_ gocmd.Commander[RefreshMessage]     = (*RefreshCommand)(nil)
	_ gocmd.Commander[HealthCheckMessage] = (*HealthCheckCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
