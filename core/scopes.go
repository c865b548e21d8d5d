package core

import (
	"encoding/json"
	"strings"
)

const (
	ScopeOpenID = "openid"
	ScopeEmail  = "email"
)

func DefaultBaselineScopes() []string {
	return []string{ScopeOpenID, ScopeEmail}
}

// ScopeSet reads and writes the serialized scope list of a record. Baseline
// scopes are merged in on every write.
type ScopeSet struct {
	Baseline []string
}

func NewScopeSet(baseline []string) ScopeSet {
	return ScopeSet{Baseline: normalizeScopes(baseline)}
}

func (s ScopeSet) Get(record Authorization) []string {
	raw := strings.TrimSpace(record.RawScopes)
	if raw == "" {
		return []string{}
	}
	var decoded []string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return []string{}
	}
	return normalizeScopes(decoded)
}

func (s ScopeSet) Set(record *Authorization, scopes []string) {
	if record == nil {
		return
	}
	merged := normalizeScopes(append(append([]string(nil), scopes...), s.Baseline...))
	encoded, err := json.Marshal(merged)
	if err != nil {
		return
	}
	record.RawScopes = string(encoded)
}

func (s ScopeSet) Add(record *Authorization, scopes ...string) {
	if record == nil {
		return
	}
	s.Set(record, append(s.Get(*record), scopes...))
}

func (s ScopeSet) Has(record Authorization, scope string) bool {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return false
	}
	for _, candidate := range s.Get(record) {
		if candidate == scope {
			return true
		}
	}
	return false
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := map[string]struct{}{}
	result := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
