package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTokenType             = "Bearer"
	DefaultTokenLifetimeSeconds  = int64(3600)
	DefaultExpiresInSafetyMargin = int64(120)
)

// TokenBundle is the canonical token shape exchanged with the OAuth client
// capability. Its JSON form matches the Google client "json token".
type TokenBundle struct {
	AccessToken     string
	RefreshToken    string
	TokenType       string
	LifetimeSeconds *int64
	IssuedAt        int64
	IDToken         string
}

type tokenBundlePayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"`
	Created      int64  `json:"created,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

func (b TokenBundle) MarshalJSON() ([]byte, error) {
	tokenType := strings.TrimSpace(b.TokenType)
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return json.Marshal(tokenBundlePayload{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    cloneInt64Pointer(b.LifetimeSeconds),
		Created:      b.IssuedAt,
		IDToken:      b.IDToken,
	})
}

func (b *TokenBundle) UnmarshalJSON(data []byte) error {
	var payload tokenBundlePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*b = TokenBundle{
		AccessToken:     payload.AccessToken,
		RefreshToken:    payload.RefreshToken,
		TokenType:       payload.TokenType,
		LifetimeSeconds: cloneInt64Pointer(payload.ExpiresIn),
		IssuedAt:        payload.Created,
		IDToken:         payload.IDToken,
	}
	return nil
}

// ParseTokenBundle decodes a json token as produced by MarshalJSON.
func ParseTokenBundle(raw []byte) (TokenBundle, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return TokenBundle{}, fmt.Errorf("core: token bundle payload is empty")
	}
	var bundle TokenBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return TokenBundle{}, fmt.Errorf("core: decode token bundle: %w", err)
	}
	if strings.TrimSpace(bundle.AccessToken) == "" {
		return TokenBundle{}, fmt.Errorf("core: token bundle access token is required")
	}
	return bundle, nil
}

type TokenCodec struct {
	SafetyMargin    int64
	DefaultLifetime int64
	Now             func() time.Time
}

func NewTokenCodec(cfg Config) TokenCodec {
	return TokenCodec{
		SafetyMargin:    cfg.ExpiresInSafetyMargin,
		DefaultLifetime: cfg.DefaultLifetime,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Encode assembles a bundle from the stored fields. It reports false when the
// record carries no access token.
func (c TokenCodec) Encode(record Authorization) (TokenBundle, bool) {
	if !record.HasAccessToken() {
		return TokenBundle{}, false
	}
	bundle := TokenBundle{
		AccessToken:     record.AccessToken,
		RefreshToken:    record.RefreshToken,
		TokenType:       DefaultTokenType,
		LifetimeSeconds: cloneInt64Pointer(record.LifetimeSeconds),
	}
	if record.IssuedAt != nil {
		bundle.IssuedAt = *record.IssuedAt
	}
	return bundle, true
}

// Decode writes the bundle into the record. A bundle without a refresh token
// keeps the one already stored.
func (c TokenCodec) Decode(bundle TokenBundle, record *Authorization) error {
	if record == nil {
		return fmt.Errorf("core: authorization record is required")
	}
	accessToken := strings.TrimSpace(bundle.AccessToken)
	if accessToken == "" {
		return fmt.Errorf("core: token bundle access token is required")
	}

	issuedAt := bundle.IssuedAt
	if issuedAt <= 0 {
		issuedAt = c.now().Unix()
	}

	record.AccessToken = accessToken
	if refreshToken := strings.TrimSpace(bundle.RefreshToken); refreshToken != "" {
		record.RefreshToken = refreshToken
	}
	record.IssuedAt = int64Pointer(issuedAt)
	record.LifetimeSeconds = int64Pointer(c.Lifetime(bundle))
	return nil
}

// Lifetime returns the stored lifetime for a bundle: the provider value (or
// the default) minus the safety margin, never below zero.
func (c TokenCodec) Lifetime(bundle TokenBundle) int64 {
	lifetime := c.DefaultLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetimeSeconds
	}
	if bundle.LifetimeSeconds != nil {
		lifetime = *bundle.LifetimeSeconds
	}
	margin := c.SafetyMargin
	if margin < 0 {
		margin = 0
	}
	lifetime -= margin
	if lifetime < 0 {
		return 0
	}
	return lifetime
}

func (c TokenCodec) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}
