package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

const authorizationAlias = "ga"

type authorizationRecord struct {
	bun.BaseModel `bun:"table:gapi_authorisations,alias:ga"`

	ID                string    `bun:"id,pk"`
	OwnerID           string    `bun:"owner_id,notnull"`
	Name              string    `bun:"name,notnull"`
	State             string    `bun:"state,notnull"`
	AccessToken       string    `bun:"access_token,nullzero"`
	RefreshToken      string    `bun:"refresh_token,nullzero"`
	CreatedTime       *int64    `bun:"created_time"`
	ExpiresIn         *int64    `bun:"expires_in"`
	Scope             string    `bun:"scope,nullzero"`
	ProviderSubjectID string    `bun:"provider_subject_id,nullzero"`
	ProviderEmail     string    `bun:"provider_email,nullzero"`
	Version           int64     `bun:"version,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// mutableAuthorizationColumns are written by compare-and-swap updates.
var mutableAuthorizationColumns = []string{
	"state",
	"access_token",
	"refresh_token",
	"created_time",
	"expires_in",
	"scope",
	"provider_subject_id",
	"provider_email",
	"version",
	"updated_at",
}
