package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-authorizations/core"
)

func (s *AuthorizationStore) toRecord(ctx context.Context, in core.Authorization) (*authorizationRecord, error) {
	accessToken, err := s.seal(ctx, in.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.seal(ctx, in.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &authorizationRecord{
		ID:                strings.TrimSpace(in.ID),
		OwnerID:           strings.TrimSpace(in.OwnerID),
		Name:              strings.TrimSpace(in.Name),
		State:             string(in.State),
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		CreatedTime:       cloneInt64(in.IssuedAt),
		ExpiresIn:         cloneInt64(in.LifetimeSeconds),
		Scope:             in.RawScopes,
		ProviderSubjectID: strings.TrimSpace(in.ProviderSubjectID),
		ProviderEmail:     strings.TrimSpace(in.ProviderEmail),
		Version:           in.Version,
		CreatedAt:         in.CreatedAt,
		UpdatedAt:         in.UpdatedAt,
	}, nil
}

func (s *AuthorizationStore) toDomain(ctx context.Context, r *authorizationRecord) (core.Authorization, error) {
	if r == nil {
		return core.Authorization{}, fmt.Errorf("sqlstore: authorization record is nil")
	}
	accessToken, err := s.open(ctx, r.AccessToken)
	if err != nil {
		return core.Authorization{}, err
	}
	refreshToken, err := s.open(ctx, r.RefreshToken)
	if err != nil {
		return core.Authorization{}, err
	}
	return core.Authorization{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		Name:              r.Name,
		State:             core.AuthorizationState(r.State),
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		IssuedAt:          cloneInt64(r.CreatedTime),
		LifetimeSeconds:   cloneInt64(r.ExpiresIn),
		RawScopes:         r.Scope,
		ProviderSubjectID: r.ProviderSubjectID,
		ProviderEmail:     r.ProviderEmail,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, nil
}

// seal encrypts a token value when a secret provider is configured.
func (s *AuthorizationStore) seal(ctx context.Context, value string) (string, error) {
	if value == "" || s.secrets == nil {
		return value, nil
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", fmt.Errorf("sqlstore: seal token: %w", err)
	}
	return string(sealed), nil
}

// open reverses seal. Values written before encryption was enabled pass
// through unchanged.
func (s *AuthorizationStore) open(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, core.SealedSecretPrefix) {
		return value, nil
	}
	if s.secrets == nil {
		return "", fmt.Errorf("sqlstore: sealed token found but no secret provider is configured")
	}
	plaintext, err := s.secrets.Decrypt(ctx, []byte(value))
	if err != nil {
		return "", fmt.Errorf("sqlstore: open token: %w", err)
	}
	return string(plaintext), nil
}

func cloneInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
