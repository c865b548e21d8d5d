package httpapi

import (
	"time"

	"github.com/goliatone/go-authorizations/core"
)

type authorizationView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	State             string     `json:"state"`
	Scopes            []string   `json:"scopes"`
	ProviderSubjectID string     `json:"provider_subject_id,omitempty"`
	ProviderEmail     string     `json:"provider_email,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newAuthorizationView(scopes core.ScopeSet, record core.Authorization) authorizationView {
	view := authorizationView{
		ID:                record.ID,
		Name:              record.Name,
		State:             record.State.String(),
		Scopes:            scopes.Get(record),
		ProviderSubjectID: record.ProviderSubjectID,
		ProviderEmail:     record.ProviderEmail,
		Version:           record.Version,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
	if expiresAt, ok := record.ExpiresAt(); ok {
		view.ExpiresAt = &expiresAt
	}
	return view
}
