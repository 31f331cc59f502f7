package authkit

import (
	"context"
	"encoding/base32"
	"errors"
	"testing"
	"time"
)

func totpSecretBytesFromSetup(t *testing.T, result *SetupResult) []byte {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(result.Secret)
	if err != nil {
		t.Fatalf("failed to decode setup secret: %v", err)
	}
	return secret
}

func totpCodeAt(t *testing.T, secret []byte, at time.Time) string {
	t.Helper()
	code, err := hotpCode(secret, at.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("failed to compute totp code: %v", err)
	}
	return code
}

// wrongTOTPCode returns a 6-digit code guaranteed not to match any counter
// inside the verification window at the given time.
func wrongTOTPCode(t *testing.T, secret []byte, at time.Time) string {
	t.Helper()

	window := map[string]bool{}
	base := at.Unix() / 30
	for step := int64(-1); step <= 1; step++ {
		code, err := hotpCode(secret, base+step, 6, "SHA1")
		if err != nil {
			t.Fatalf("failed to compute totp code: %v", err)
		}
		window[code] = true
	}

	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !window[candidate] {
			return candidate
		}
	}
	t.Fatal("no wrong code candidate available")
	return ""
}

func TestSetupTOTPEnablesOnFirstVerify(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	result, err := engine.SetupMFA(ctx, "user-1", MFATypeTOTP, "")
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if result.Secret == "" || result.ProvisionURI == "" {
		t.Fatalf("expected enrollment material, got %+v", result)
	}

	statuses, err := engine.MFAStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != MethodStateEnrolling {
		t.Fatalf("expected one enrolling method, got %+v", statuses)
	}

	secret := totpSecretBytesFromSetup(t, result)
	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, totpCodeAt(t, secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if !verify.Valid {
		t.Fatalf("expected first verification to succeed, got %+v", verify)
	}

	statuses, err = engine.MFAStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if statuses[0].State != MethodStateEnabled {
		t.Fatalf("expected method enabled after first verify, got %v", statuses[0].State)
	}
	if statuses[0].LastUsedAt.IsZero() {
		t.Fatal("expected LastUsedAt stamped")
	}
}

func TestVerifyTOTPRejectsReplay(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	result, err := engine.SetupMFA(ctx, "user-1", MFATypeTOTP, "")
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	secret := totpSecretBytesFromSetup(t, result)
	code := totpCodeAt(t, secret, clock.Now())

	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, code)
	if err != nil || !verify.Valid {
		t.Fatalf("expected first use to succeed, result=%+v err=%v", verify, err)
	}

	// The same code in the same time step is a replay.
	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, code)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonInvalidCode {
		t.Fatalf("expected replay rejected, got %+v", verify)
	}

	snapshot := engine.MetricsSnapshot()
	if got := snapshot.Counters[MetricMFAReplayAttempt]; got != 1 {
		t.Fatalf("expected 1 replay counted, got %d", got)
	}

	// The next time step yields a fresh, acceptable code.
	clock.Advance(30 * time.Second)
	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, totpCodeAt(t, secret, clock.Now()))
	if err != nil || !verify.Valid {
		t.Fatalf("expected next-step code accepted, result=%+v err=%v", verify, err)
	}
}

func TestVerifyMFALockoutAfterThreshold(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, func(cfg *Config) {
		cfg.Lockout.Threshold = 3
		cfg.Lockout.Duration = 15 * time.Minute
	})
	defer done()

	ctx := context.Background()

	result, err := engine.SetupMFA(ctx, "user-1", MFATypeTOTP, "")
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	secret := totpSecretBytesFromSetup(t, result)
	wrong := wrongTOTPCode(t, secret, clock.Now())

	for i := 1; i <= 3; i++ {
		verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, wrong)
		if err != nil {
			t.Fatalf("VerifyMFA %d failed: %v", i, err)
		}
		if verify.Valid {
			t.Fatalf("attempt %d must fail", i)
		}
		// The attempt that crosses the threshold still reports the code
		// outcome, not the lockout.
		if verify.Reason != ReasonInvalidCode {
			t.Fatalf("attempt %d reason = %v, want invalid code", i, verify.Reason)
		}
		if verify.RemainingAttempts != 3-i {
			t.Fatalf("attempt %d remaining = %d, want %d", i, verify.RemainingAttempts, 3-i)
		}
	}

	snapshot := engine.MetricsSnapshot()
	if got := snapshot.Counters[MetricMFALockout]; got != 1 {
		t.Fatalf("expected 1 lockout counted, got %d", got)
	}

	// Even the correct code is refused while locked.
	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, totpCodeAt(t, secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA while locked failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonLocked {
		t.Fatalf("expected locked rejection, got %+v", verify)
	}
	if verify.RetryAfter <= 0 || verify.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected RetryAfter %v", verify.RetryAfter)
	}

	// After the window the failure counter resets and verification works.
	clock.Advance(16 * time.Minute)
	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, totpCodeAt(t, secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA after lockout failed: %v", err)
	}
	if !verify.Valid {
		t.Fatalf("expected verification after lockout window, got %+v", verify)
	}

	statuses, err := engine.MFAStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if statuses[0].FailedAttempts != 0 {
		t.Fatalf("expected failure counter reset, got %d", statuses[0].FailedAttempts)
	}
}

func TestVerifyMFAUnconfiguredMethod(t *testing.T) {
	engine, _, _, done := newEngineTest(t, nil)
	defer done()

	verify, err := engine.VerifyMFA(context.Background(), "user-1", MFATypeTOTP, "123456")
	if err != nil {
		t.Fatalf("unconfigured method must not be an error: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonNotFound {
		t.Fatalf("expected not-found rejection, got %+v", verify)
	}
}

func TestVerifyMFAInvalidType(t *testing.T) {
	engine, _, _, done := newEngineTest(t, nil)
	defer done()

	if _, err := engine.VerifyMFA(context.Background(), "user-1", MFAType(9), "123456"); !errors.Is(err, ErrInvalidMFAType) {
		t.Fatalf("expected ErrInvalidMFAType, got %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	result, err := engine.SetupMFA(ctx, "user-1", MFATypeTOTP, "")
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	secret := totpSecretBytesFromSetup(t, result)

	if err := engine.DisableMFA(ctx, "user-1", MFATypeTOTP); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeTOTP, totpCodeAt(t, secret, clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonNotEnabled {
		t.Fatalf("expected not-enabled rejection, got %+v", verify)
	}

	// Disabled is distinguishable from never-configured.
	statuses, err := engine.MFAStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != MethodStateDisabled {
		t.Fatalf("expected disabled status retained, got %+v", statuses)
	}

	// Disabling a method that was never set up already holds, so the
	// call succeeds without creating a record.
	if err := engine.DisableMFA(ctx, "user-2", MFATypeTOTP); err != nil {
		t.Fatalf("expected no-op success for unconfigured user, got %v", err)
	}
	statuses, err = engine.MFAStatus(ctx, "user-2")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("no-op disable must not create a method row, got %+v", statuses)
	}
}

func TestSetupSMSRequiresPhoneNumber(t *testing.T) {
	engine, _, _, done := newEngineTest(t, nil)
	defer done()

	if _, err := engine.SetupMFA(context.Background(), "user-1", MFATypeSMS, ""); !errors.Is(err, ErrMissingPhoneNumber) {
		t.Fatalf("expected ErrMissingPhoneNumber, got %v", err)
	}
}

func TestIssueAndVerifySMSCode(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	if _, err := engine.SetupMFA(ctx, "user-1", MFATypeSMS, "+15551230001"); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	code, expiresAt, err := engine.IssueSMSCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("IssueSMSCode failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	if !expiresAt.Equal(clock.Now().Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeSMS, code)
	if err != nil || !verify.Valid {
		t.Fatalf("expected sms code accepted, result=%+v err=%v", verify, err)
	}

	// The code is single use.
	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeSMS, code)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonInvalidCode {
		t.Fatalf("expected consumed code rejected, got %+v", verify)
	}

	statuses, err := engine.MFAStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("MFAStatus failed: %v", err)
	}
	if statuses[0].State != MethodStateEnabled {
		t.Fatalf("expected sms method enabled after verify, got %v", statuses[0].State)
	}
	if statuses[0].PhoneNumber != "+15551230001" {
		t.Fatalf("expected phone number in status, got %q", statuses[0].PhoneNumber)
	}
}

func TestVerifySMSCodeExpired(t *testing.T) {
	engine, _, clock, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	if _, err := engine.SetupMFA(ctx, "user-1", MFATypeSMS, "+15551230001"); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	code, _, err := engine.IssueSMSCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("IssueSMSCode failed: %v", err)
	}

	clock.Advance(6 * time.Minute)

	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeSMS, code)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonCodeExpired {
		t.Fatalf("expected expired rejection, got %+v", verify)
	}
	// An expired code still counts as a failed attempt.
	if verify.RemainingAttempts != 4 {
		t.Fatalf("expected 4 remaining attempts, got %d", verify.RemainingAttempts)
	}

	// The expired code was cleared, so a retry reports invalid, not expired.
	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeSMS, code)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid || verify.Reason != ReasonInvalidCode {
		t.Fatalf("expected cleared code rejected as invalid, got %+v", verify)
	}
}

func TestIssueSMSCodeThrottled(t *testing.T) {
	engine, _, _, done := newEngineTest(t, func(cfg *Config) {
		cfg.SMS.MaxIssuesPerWindow = 2
	})
	defer done()

	ctx := context.Background()

	if _, err := engine.SetupMFA(ctx, "user-1", MFATypeSMS, "+15551230001"); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := engine.IssueSMSCode(ctx, "user-1"); err != nil {
			t.Fatalf("IssueSMSCode %d failed: %v", i, err)
		}
	}

	if _, _, err := engine.IssueSMSCode(ctx, "user-1"); !errors.Is(err, ErrSMSRateLimited) {
		t.Fatalf("expected ErrSMSRateLimited, got %v", err)
	}

	snapshot := engine.MetricsSnapshot()
	if got := snapshot.Counters[MetricSMSRateLimited]; got != 1 {
		t.Fatalf("expected 1 throttle hit counted, got %d", got)
	}
}

func TestIssueSMSCodeReplacesOutstanding(t *testing.T) {
	engine, _, _, done := newEngineTest(t, nil)
	defer done()

	ctx := context.Background()

	if _, err := engine.SetupMFA(ctx, "user-1", MFATypeSMS, "+15551230001"); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	first, _, err := engine.IssueSMSCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("IssueSMSCode failed: %v", err)
	}
	second, _, err := engine.IssueSMSCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("second IssueSMSCode failed: %v", err)
	}

	verify, err := engine.VerifyMFA(ctx, "user-1", MFATypeSMS, first)
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if verify.Valid && first != second {
		t.Fatal("expected superseded code rejected")
	}

	verify, err = engine.VerifyMFA(ctx, "user-1", MFATypeSMS, second)
	if err != nil || !verify.Valid {
		t.Fatalf("expected latest code accepted, result=%+v err=%v", verify, err)
	}
}

func TestIssueSMSCodeWithoutMethod(t *testing.T) {
	engine, _, _, done := newEngineTest(t, nil)
	defer done()

	if _, _, err := engine.IssueSMSCode(context.Background(), "user-1"); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}
