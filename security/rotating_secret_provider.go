package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-authorizations/core"
)

// SecretProviderDiagnostic describes a decrypt that needed a retired key.
type SecretProviderDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Outcome    string
	Primary    string
	Retired    string
	Error      string
}

type SecretProviderDiagnosticHook func(event SecretProviderDiagnostic)

type RotatingOption func(*RotatingSecretProvider)

// RotatingSecretProvider seals with the primary key and opens values sealed
// under any retired key, so tokens survive an application key rotation.
type RotatingSecretProvider struct {
	primary        core.SecretProvider
	retired        []core.SecretProvider
	diagnosticHook SecretProviderDiagnosticHook
	now            func() time.Time
}

func NewRotatingSecretProvider(primary core.SecretProvider, opts ...RotatingOption) (*RotatingSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	provider := &RotatingSecretProvider{
		primary: primary,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithRetiredSecretProvider(provider core.SecretProvider) RotatingOption {
	return func(r *RotatingSecretProvider) {
		if r == nil || provider == nil {
			return
		}
		r.retired = append(r.retired, provider)
	}
}

func WithSecretProviderDiagnostics(hook SecretProviderDiagnosticHook) RotatingOption {
	return func(r *RotatingSecretProvider) {
		if r == nil {
			return
		}
		r.diagnosticHook = hook
	}
}

func WithRotationClock(now func() time.Time) RotatingOption {
	return func(r *RotatingSecretProvider) {
		if r == nil {
			return
		}
		r.now = now
	}
}

func (p *RotatingSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	return p.primary.Encrypt(ctx, plaintext)
}

func (p *RotatingSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}
	plaintext, err := p.primary.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	for _, retired := range p.retired {
		recovered, retiredErr := retired.Decrypt(ctx, ciphertext)
		if retiredErr != nil {
			continue
		}
		p.emit("decrypt", "retired_key_used", retired, err)
		return recovered, nil
	}
	p.emit("decrypt", "all_keys_failed", nil, err)
	return nil, fmt.Errorf("security: no configured key opens ciphertext: %w", err)
}

func (p *RotatingSecretProvider) Metadata() (string, int) {
	if p == nil {
		return "", 0
	}
	keyID, version, _ := readProviderMetadata(p.primary)
	return keyID, version
}

func (p *RotatingSecretProvider) emit(operation string, outcome string, retired core.SecretProvider, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(SecretProviderDiagnostic{
		OccurredAt: p.now().UTC(),
		Operation:  operation,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Retired:    describeSecretProvider(retired),
		Error:      msg,
	})
}

func readProviderMetadata(provider core.SecretProvider) (string, int, bool) {
	if provider == nil {
		return "", 0, false
	}
	metadataProvider, ok := provider.(interface{ Metadata() (string, int) })
	if !ok {
		return "", 0, false
	}
	keyID, version := metadataProvider.Metadata()
	keyID = strings.TrimSpace(keyID)
	if keyID == "" || version <= 0 {
		return "", 0, false
	}
	return keyID, version, true
}

func describeSecretProvider(provider core.SecretProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if keyID, version, ok := readProviderMetadata(provider); ok {
		return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
	}
	return label
}

var _ core.SecretProvider = (*RotatingSecretProvider)(nil)
