package query

import (
	"github.com/goliatone/go-authorizations/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetAuthorizationMessage, core.Authorization]     = (*GetAuthorizationQuery)(nil)
	_ gocmd.Querier[ListAuthorizationsMessage, []core.Authorization] = (*ListAuthorizationsQuery)(nil)
	_ gocmd.Querier[FindDuplicatesMessage, []core.Authorization]     = (*FindDuplicatesQuery)(nil)

	_ Reader = (*core.Service)(nil)
)
