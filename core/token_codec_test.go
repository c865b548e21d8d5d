package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTokenCodec_DecodeAppliesSafetyMargin(t *testing.T) {
	codec := NewTokenCodec(DefaultConfig())
	codec.Now = fixedClock(1_700_000_000)

	var record Authorization
	err := codec.Decode(TokenBundle{AccessToken: "tok1", RefreshToken: "ref1", LifetimeSeconds: lifetime(3600)}, &record)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.AccessToken != "tok1" || record.RefreshToken != "ref1" {
		t.Fatalf("unexpected tokens %#v", record)
	}
	if record.LifetimeSeconds == nil || *record.LifetimeSeconds != 3480 {
		t.Fatalf("expected lifetime 3480, got %v", record.LifetimeSeconds)
	}
	if record.IssuedAt == nil || *record.IssuedAt != 1_700_000_000 {
		t.Fatalf("expected issued_at to fall back to now, got %v", record.IssuedAt)
	}
}

func TestTokenCodec_LifetimeEdges(t *testing.T) {
	codec := NewTokenCodec(DefaultConfig())

	if got := codec.Lifetime(TokenBundle{AccessToken: "x"}); got != 3480 {
		t.Fatalf("expected default lifetime minus margin, got %d", got)
	}
	if got := codec.Lifetime(TokenBundle{AccessToken: "x", LifetimeSeconds: lifetime(60)}); got != 0 {
		t.Fatalf("expected lifetime shorter than margin to clamp at 0, got %d", got)
	}
	if got := codec.Lifetime(TokenBundle{AccessToken: "x", LifetimeSeconds: lifetime(120)}); got != 0 {
		t.Fatalf("expected lifetime equal to margin to be 0, got %d", got)
	}
}

func TestTokenCodec_DecodeKeepsExistingRefreshToken(t *testing.T) {
	codec := NewTokenCodec(DefaultConfig())
	record := Authorization{AccessToken: "old", RefreshToken: "ref1"}
	if err := codec.Decode(TokenBundle{AccessToken: "tok2", IssuedAt: 1_700_000_100}, &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.RefreshToken != "ref1" {
		t.Fatalf("expected refresh token preserved, got %q", record.RefreshToken)
	}
	if *record.IssuedAt != 1_700_000_100 {
		t.Fatalf("expected provider issued_at, got %d", *record.IssuedAt)
	}
}

func TestTokenCodec_DecodeRejectsMissingAccessToken(t *testing.T) {
	codec := NewTokenCodec(DefaultConfig())
	record := Authorization{AccessToken: "keep"}
	if err := codec.Decode(TokenBundle{}, &record); err == nil {
		t.Fatalf("expected missing access token to fail")
	}
	if record.AccessToken != "keep" {
		t.Fatalf("expected record untouched on failure")
	}
}

func TestTokenCodec_EncodeRoundTripsStoredFields(t *testing.T) {
	codec := NewTokenCodec(DefaultConfig())
	if _, ok := codec.Encode(Authorization{}); ok {
		t.Fatalf("expected no bundle without access token")
	}
	bundle, ok := codec.Encode(Authorization{
		AccessToken:     "tok1",
		RefreshToken:    "ref1",
		IssuedAt:        lifetime(1_700_000_000),
		LifetimeSeconds: lifetime(3480),
	})
	if !ok {
		t.Fatalf("expected bundle")
	}
	if bundle.TokenType != DefaultTokenType || bundle.IssuedAt != 1_700_000_000 || *bundle.LifetimeSeconds != 3480 {
		t.Fatalf("unexpected bundle %#v", bundle)
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"access_token":"tok1"`, `"refresh_token":"ref1"`, `"expires_in":3480`, `"created":1700000000`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
	parsed, err := ParseTokenBundle(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.AccessToken != "tok1" || parsed.RefreshToken != "ref1" {
		t.Fatalf("unexpected parsed bundle %#v", parsed)
	}
}

func TestParseTokenBundle_RejectsEmptyPayload(t *testing.T) {
	if _, err := ParseTokenBundle(nil); err == nil {
		t.Fatalf("expected empty payload error")
	}
	if _, err := ParseTokenBundle([]byte(`{"refresh_token":"r"}`)); err == nil {
		t.Fatalf("expected missing access token error")
	}
}
