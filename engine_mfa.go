package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillsec/authkit/internal"
	"github.com/quillsec/authkit/internal/rate"
	"github.com/quillsec/authkit/internal/stores"
)

// VerifyMFA checks a verification code against the user's method of the
// given type and enforces the failure lockout. Business outcomes — method
// missing, disabled, locked, wrong or expired code — are reported in the
// returned [VerifyResult] with a nil error; the error return is reserved
// for store faults so an outage can never be mistaken for a rejected
// credential.
//
// Counter updates run under an optimistic transaction: concurrent
// failures each land exactly one increment, and the attempt that crosses
// the threshold starts the lockout window.
//
// VerifyMFA may return an error when input validation, dependency calls, or security checks fail.
// VerifyMFA does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyMFA(ctx context.Context, userID string, typ MFAType, code string) (*VerifyResult, error) {
	if e == nil || e.methodStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if typ != MFATypeTOTP && typ != MFATypeSMS && typ != MFATypeBackupCodes {
		return nil, ErrInvalidMFAType
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	now := e.now()
	threshold := e.config.Lockout.Threshold

	var (
		result      VerifyResult
		lockedNow   bool
		replay      bool
		backupMatch bool
	)

	_, err := e.methodStore.Mutate(opCtx, userID, methodStoreType(typ), func(record *stores.MethodRecord) (bool, error) {
		result = VerifyResult{}
		lockedNow, replay, backupMatch = false, false, false

		if record.State == stores.StateDisabled {
			result.Reason = ReasonNotEnabled
			return false, nil
		}

		if record.LockedUntil > 0 {
			if record.LockedUntil > now.Unix() {
				result.Reason = ReasonLocked
				result.RetryAfter = time.Unix(record.LockedUntil, 0).Sub(now)
				return false, nil
			}
			// Lockout window has passed: the next attempt starts fresh.
			record.LockedUntil = 0
			record.FailedAttempts = 0
		}

		matched, reason, err := e.checkMethodCode(record, code, now)
		if err != nil {
			return false, err
		}

		if matched == matchReplay {
			replay = true
		}
		if matched == matchOK && record.Type == stores.TypeBackupCodes {
			backupMatch = true
		}

		if matched == matchOK {
			record.FailedAttempts = 0
			record.LockedUntil = 0
			record.LastUsedAt = now.Unix()
			record.UpdatedAt = now.Unix()
			if record.State == stores.StateEnrolling {
				record.State = stores.StateEnabled
			}
			result.Valid = true
			return true, nil
		}

		record.FailedAttempts++
		record.UpdatedAt = now.Unix()
		if int(record.FailedAttempts) >= threshold {
			record.LockedUntil = now.Add(e.config.Lockout.Duration).Unix()
			lockedNow = true
		}

		result.Reason = reason
		result.RemainingAttempts = threshold - int(record.FailedAttempts)
		if result.RemainingAttempts < 0 {
			result.RemainingAttempts = 0
		}

		return true, nil
	})
	if err != nil {
		if errors.Is(err, stores.ErrMethodRecordNotFound) {
			e.metricInc(MetricMFAVerifyFailure)
			return &VerifyResult{Reason: ReasonNotFound}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.reportVerifyOutcome(ctx, userID, typ, &result, lockedNow, replay, backupMatch)

	return &result, nil
}

type matchOutcome uint8

const (
	matchFailed matchOutcome = iota
	matchOK
	matchReplay
	matchExpired
)

func (e *Engine) checkMethodCode(record *stores.MethodRecord, code string, now time.Time) (matchOutcome, VerifyReason, error) {
	switch record.Type {
	case stores.TypeTOTP:
		ok, counter, err := e.totp.VerifyCode(record.TOTP.Secret, code, now)
		if err != nil {
			return matchFailed, ReasonInvalidCode, nil
		}
		if !ok {
			return matchFailed, ReasonInvalidCode, nil
		}
		if record.TOTP.LastCounter > 0 && counter <= record.TOTP.LastCounter {
			// A code from an already-consumed time step is a replay.
			return matchReplay, ReasonInvalidCode, nil
		}
		record.TOTP.LastCounter = counter
		return matchOK, ReasonNone, nil

	case stores.TypeSMS:
		if !record.SMS.CodeSet {
			return matchFailed, ReasonInvalidCode, nil
		}
		if record.SMS.CodeExpiresAt <= now.Unix() {
			record.SMS.CodeSet = false
			record.SMS.CodeHash = [32]byte{}
			record.SMS.CodeExpiresAt = 0
			return matchExpired, ReasonCodeExpired, nil
		}
		provided := internal.HashCode(record.UserID, code)
		if !internal.ConstantTimeEqual(record.SMS.CodeHash, provided) {
			return matchFailed, ReasonInvalidCode, nil
		}
		// Single use: the code is consumed on success.
		record.SMS.CodeSet = false
		record.SMS.CodeHash = [32]byte{}
		record.SMS.CodeExpiresAt = 0
		return matchOK, ReasonNone, nil

	case stores.TypeBackupCodes:
		canonical := internal.CanonicalizeBackupCode(code)
		provided := internal.BackupCodeHash(record.UserID, canonical)
		for i, h := range record.Backup.Hashes {
			if internal.ConstantTimeEqual(h, provided) {
				record.Backup.Hashes = append(record.Backup.Hashes[:i], record.Backup.Hashes[i+1:]...)
				return matchOK, ReasonNone, nil
			}
		}
		return matchFailed, ReasonInvalidCode, nil

	default:
		return matchFailed, ReasonInvalidCode, errors.New("unknown method type")
	}
}

func (e *Engine) reportVerifyOutcome(
	ctx context.Context,
	userID string,
	typ MFAType,
	result *VerifyResult,
	lockedNow bool,
	replay bool,
	backupMatch bool,
) {
	if result.Valid {
		e.metricInc(MetricMFAVerifySuccess)
		if backupMatch {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", typ.String(), nil, nil)
		}
		e.emitAudit(ctx, auditEventMFASuccess, true, userID, "", typ.String(), nil, nil)
		return
	}

	e.metricInc(MetricMFAVerifyFailure)
	if replay {
		e.metricInc(MetricMFAReplayAttempt)
	}
	if typ == MFATypeBackupCodes && result.Reason == ReasonInvalidCode {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", typ.String(), ErrCodeInvalid, nil)
	}

	var auditErr error
	switch result.Reason {
	case ReasonNotEnabled:
		auditErr = ErrMethodNotEnabled
	case ReasonLocked:
		auditErr = ErrMethodLocked
	case ReasonCodeExpired:
		auditErr = ErrCodeExpired
	default:
		auditErr = ErrCodeInvalid
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", typ.String(), auditErr, nil)

	if lockedNow {
		e.metricInc(MetricMFALockout)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, userID, "", typ.String(), ErrMethodLocked, nil)
	}
}

// IssueSMSCode mints a fresh one-time code for the user's SMS method and
// returns the plaintext code with its expiry for the caller to deliver.
// Only the code's hash is persisted; issuing again replaces any
// outstanding code. Issuance is throttled per user by the configured
// fixed window.
//
// IssueSMSCode may return an error when input validation, dependency calls, or security checks fail.
// IssueSMSCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueSMSCode(ctx context.Context, userID string) (string, time.Time, error) {
	if e == nil || e.methodStore == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	now := e.now()

	if e.smsLimiter != nil {
		if err := e.smsLimiter.CheckSMSIssue(opCtx, userID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricSMSRateLimited)
				e.emitAudit(ctx, auditEventSMSRateLimited, false, userID, "", MFATypeSMS.String(), ErrSMSRateLimited, nil)
				return "", time.Time{}, ErrSMSRateLimited
			}
			return "", time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	code, err := internal.NewOTP(e.config.SMS.CodeDigits)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(e.config.SMS.CodeTTL)

	_, err = e.methodStore.Mutate(opCtx, userID, stores.TypeSMS, func(record *stores.MethodRecord) (bool, error) {
		if record.State == stores.StateDisabled {
			return false, ErrMethodNotEnabled
		}
		if record.LockedUntil > now.Unix() {
			return false, ErrMethodLocked
		}

		record.SMS.CodeHash = internal.HashCode(userID, code)
		record.SMS.CodeSet = true
		record.SMS.CodeExpiresAt = expiresAt.Unix()
		record.UpdatedAt = now.Unix()
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrMethodRecordNotFound):
			return "", time.Time{}, ErrMethodNotFound
		case errors.Is(err, ErrMethodNotEnabled), errors.Is(err, ErrMethodLocked):
			return "", time.Time{}, err
		default:
			return "", time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricSMSCodeIssued)
	e.emitAudit(ctx, auditEventSMSCodeIssued, true, userID, "", MFATypeSMS.String(), nil, nil)

	return code, expiresAt, nil
}
