package sqlstore

import "github.com/goliatone/go-authorizations/core"

var (
	_ core.AuthorizationStore = (*AuthorizationStore)(nil)
	_ core.AuthorizationStore = (*CachedAuthorizationStore)(nil)
)
