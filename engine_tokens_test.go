package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidateAccessToken(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(time.Hour)

	if err := engine.IssueAccessToken(ctx, "user-1", "tok-1", "access-value", expiresAt); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	valid, err := engine.ValidateAccessToken(ctx, "user-1", "tok-1", "access-value")
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if !valid {
		t.Fatal("expected issued token to validate")
	}

	valid, err = engine.ValidateAccessToken(ctx, "user-1", "tok-1", "wrong-value")
	if err != nil {
		t.Fatalf("wrong value must not be an error: %v", err)
	}
	if valid {
		t.Fatal("expected wrong value to be rejected")
	}

	valid, err = engine.ValidateAccessToken(ctx, "user-1", "absent", "access-value")
	if err != nil {
		t.Fatalf("missing token must not be an error: %v", err)
	}
	if valid {
		t.Fatal("expected missing token to be rejected")
	}
}

func TestIssueAccessTokenRejectsPastExpiry(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	err := engine.IssueAccessToken(ctx, "user-1", "tok-1", "access-value", clock.Now().Add(-time.Minute))
	if !errors.Is(err, ErrExpiryInPast) {
		t.Fatalf("expected ErrExpiryInPast, got %v", err)
	}

	err = engine.IssueAccessToken(ctx, "user-1", "tok-1", "access-value", clock.Now())
	if !errors.Is(err, ErrExpiryInPast) {
		t.Fatalf("expected ErrExpiryInPast for expiry at now, got %v", err)
	}
}

func TestIssueAccessTokenRejectsEmptyInputs(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(time.Hour)

	for _, tc := range []struct{ userID, tokenID, value string }{
		{"", "tok-1", "v"},
		{"user-1", "", "v"},
		{"user-1", "tok-1", ""},
	} {
		err := engine.IssueAccessToken(ctx, tc.userID, tc.tokenID, tc.value, expiresAt)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}
}

func TestInvalidateAccessTokenIdempotent(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	if err := engine.IssueAccessToken(ctx, "user-1", "tok-1", "access-value", clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	if err := engine.InvalidateAccessToken(ctx, "user-1", "tok-1"); err != nil {
		t.Fatalf("InvalidateAccessToken failed: %v", err)
	}

	valid, err := engine.ValidateAccessToken(ctx, "user-1", "tok-1", "access-value")
	if err != nil || valid {
		t.Fatalf("expected invalidated token to be rejected, valid=%v err=%v", valid, err)
	}

	// Invalidating again is a no-op, not an error.
	if err := engine.InvalidateAccessToken(ctx, "user-1", "tok-1"); err != nil {
		t.Fatalf("second invalidate failed: %v", err)
	}
}

func TestIssueAndValidateRefreshToken(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(7 * 24 * time.Hour)

	evicted, err := engine.IssueRefreshToken(ctx, "user-1", "refresh-value", expiresAt, "Safari on iOS", "198.51.100.4")
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	if len(evicted) != 0 {
		t.Fatalf("expected no eviction, got %d", len(evicted))
	}

	valid, err := engine.ValidateRefreshToken(ctx, "user-1", "refresh-value")
	if err != nil || !valid {
		t.Fatalf("expected refresh token to validate, valid=%v err=%v", valid, err)
	}

	valid, err = engine.ValidateRefreshToken(ctx, "user-1", "other-value")
	if err != nil {
		t.Fatalf("unknown value must not be an error: %v", err)
	}
	if valid {
		t.Fatal("expected unknown value to be rejected")
	}

	if err := engine.InvalidateRefreshToken(ctx, "user-1", "refresh-value"); err != nil {
		t.Fatalf("InvalidateRefreshToken failed: %v", err)
	}
	valid, err = engine.ValidateRefreshToken(ctx, "user-1", "refresh-value")
	if err != nil || valid {
		t.Fatalf("expected revoked token to be rejected, valid=%v err=%v", valid, err)
	}
}

func TestRefreshQuotaEvictionThroughEngine(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, func(cfg *Config) {
		cfg.Tokens.MaxTokensPerUser = 2
	})
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(24 * time.Hour)

	values := []string{"refresh-1", "refresh-2", "refresh-3"}
	for i, value := range values {
		// Distinct issue times keep FIFO order deterministic.
		clock.Advance(time.Second)
		evicted, err := engine.IssueRefreshToken(ctx, "user-1", value, expiresAt, "", "")
		if err != nil {
			t.Fatalf("IssueRefreshToken %d failed: %v", i, err)
		}
		if i < 2 && len(evicted) != 0 {
			t.Fatalf("unexpected eviction at issue %d", i)
		}
		if i == 2 && len(evicted) != 1 {
			t.Fatalf("expected 1 eviction at issue %d, got %d", i, len(evicted))
		}
	}

	valid, err := engine.ValidateRefreshToken(ctx, "user-1", "refresh-1")
	if err != nil || valid {
		t.Fatalf("expected oldest token evicted, valid=%v err=%v", valid, err)
	}
	for _, value := range values[1:] {
		valid, err := engine.ValidateRefreshToken(ctx, "user-1", value)
		if err != nil || !valid {
			t.Fatalf("expected %s to survive, valid=%v err=%v", value, valid, err)
		}
	}

	count, err := engine.CountActiveTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountActiveTokens failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count capped at quota, got %d", count)
	}

	snapshot := engine.MetricsSnapshot()
	if got := snapshot.Counters[MetricQuotaEvicted]; got != 1 {
		t.Fatalf("expected 1 quota eviction counted, got %d", got)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(time.Hour)

	if err := engine.IssueAccessToken(ctx, "user-1", "tok-1", "a1", expiresAt); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if err := engine.IssueAccessToken(ctx, "user-1", "tok-2", "a2", expiresAt); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	for _, value := range []string{"refresh-1", "refresh-2"} {
		clock.Advance(time.Second)
		if _, err := engine.IssueRefreshToken(ctx, "user-1", value, expiresAt, "", ""); err != nil {
			t.Fatalf("IssueRefreshToken failed: %v", err)
		}
	}
	// Another user's tokens must not be touched.
	if err := engine.IssueAccessToken(ctx, "user-2", "tok-1", "b1", expiresAt); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	removed, err := engine.InvalidateAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("InvalidateAllForUser failed: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 records revoked, got %d", removed)
	}

	valid, err := engine.ValidateAccessToken(ctx, "user-1", "tok-1", "a1")
	if err != nil || valid {
		t.Fatalf("expected user-1 access revoked, valid=%v err=%v", valid, err)
	}
	valid, err = engine.ValidateRefreshToken(ctx, "user-1", "refresh-1")
	if err != nil || valid {
		t.Fatalf("expected user-1 refresh revoked, valid=%v err=%v", valid, err)
	}
	valid, err = engine.ValidateAccessToken(ctx, "user-2", "tok-1", "b1")
	if err != nil || !valid {
		t.Fatalf("expected user-2 token untouched, valid=%v err=%v", valid, err)
	}

	// Revocation is idempotent: a repeat call finds nothing.
	removed, err = engine.InvalidateAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("repeat InvalidateAllForUser failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 records on repeat revocation, got %d", removed)
	}
	count, err := engine.CountActiveTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountActiveTokens failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no active tokens after revocation, got %d", count)
	}
}

func TestShouldRotateNearExpiry(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, func(cfg *Config) {
		cfg.Tokens.RotationThreshold = 5 * time.Minute
	})
	defer done()

	ctx := context.Background()
	if err := engine.IssueAccessToken(ctx, "user-1", "tok-1", "access-value", clock.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	rotate, err := engine.ShouldRotate(ctx, "user-1", "tok-1")
	if err != nil {
		t.Fatalf("ShouldRotate failed: %v", err)
	}
	if rotate {
		t.Fatal("token with 10m remaining must not signal rotation")
	}

	clock.Advance(6 * time.Minute)

	rotate, err = engine.ShouldRotate(ctx, "user-1", "tok-1")
	if err != nil {
		t.Fatalf("ShouldRotate failed: %v", err)
	}
	if !rotate {
		t.Fatal("token with 4m remaining must signal rotation")
	}

	clock.Advance(5 * time.Minute)

	rotate, err = engine.ShouldRotate(ctx, "user-1", "tok-1")
	if err != nil {
		t.Fatalf("ShouldRotate failed: %v", err)
	}
	if rotate {
		t.Fatal("already-expired token must not signal rotation")
	}

	rotate, err = engine.ShouldRotate(ctx, "user-1", "absent")
	if err != nil {
		t.Fatalf("ShouldRotate for absent token failed: %v", err)
	}
	if rotate {
		t.Fatal("absent token must not signal rotation")
	}
}

func TestCountActiveTokensExcludesExpired(t *testing.T) {
	engine, mr, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	if _, err := engine.IssueRefreshToken(ctx, "user-1", "refresh-short", clock.Now().Add(time.Minute), "", ""); err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := engine.IssueRefreshToken(ctx, "user-1", "refresh-long", clock.Now().Add(time.Hour), "", ""); err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	count, err := engine.CountActiveTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountActiveTokens failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 live token, got %d", count)
	}
}

func TestActiveTokensMetadata(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()
	expiresAt := clock.Now().Add(time.Hour)

	if _, err := engine.IssueRefreshToken(ctx, "user-1", "refresh-1", expiresAt, "Firefox on Linux", "203.0.113.7"); err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}

	// Metadata falls back to context values when the arguments are empty.
	clock.Advance(time.Second)
	ctxWithMeta := WithDeviceInfo(WithClientIP(ctx, "198.51.100.4"), "Safari on iOS")
	if _, err := engine.IssueRefreshToken(ctxWithMeta, "user-1", "refresh-2", expiresAt, "", ""); err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}

	infos, err := engine.ActiveTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveTokens failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 tokens listed, got %d", len(infos))
	}

	if infos[0].DeviceInfo != "Firefox on Linux" || infos[0].IPAddress != "203.0.113.7" {
		t.Fatalf("explicit metadata mismatch: %+v", infos[0])
	}
	if infos[1].DeviceInfo != "Safari on iOS" || infos[1].IPAddress != "198.51.100.4" {
		t.Fatalf("context metadata mismatch: %+v", infos[1])
	}
	if infos[0].TokenHash == "" || infos[0].TokenHash == infos[1].TokenHash {
		t.Fatal("expected distinct non-empty token hashes")
	}
	if !infos[0].IssuedAt.Before(infos[1].IssuedAt) {
		t.Fatal("expected oldest-first ordering")
	}
}
