package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillsec/authkit/internal"
	"github.com/quillsec/authkit/internal/stores"
)

// SetupMFA enrolls a second-factor method for the user and returns the
// one-time enrollment material. TOTP and SMS methods start in the
// enrolling state and flip to enabled on their first successful
// verification; backup codes are usable immediately.
//
// Re-running setup for a type replaces the previous record, including any
// failure counters.
//
// SetupMFA may return an error when input validation, dependency calls, or security checks fail.
// SetupMFA does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SetupMFA(ctx context.Context, userID string, typ MFAType, phoneNumber string) (*SetupResult, error) {
	if e == nil || e.methodStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	now := e.now().Unix()
	record := &stores.MethodRecord{
		UserID:    userID,
		Type:      methodStoreType(typ),
		State:     stores.StateEnrolling,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := &SetupResult{Type: typ}

	switch typ {
	case MFATypeTOTP:
		secret, secretBase32, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		record.TOTP = &stores.TOTPPayload{
			Secret: secret,
			Digits: uint8(e.config.TOTP.Digits),
			Period: uint16(e.config.TOTP.Period),
		}
		result.Secret = secretBase32
		result.ProvisionURI = e.totp.ProvisionURI(secretBase32, userID)

	case MFATypeSMS:
		if phoneNumber == "" {
			return nil, ErrMissingPhoneNumber
		}
		record.SMS = &stores.SMSPayload{
			PhoneNumber: phoneNumber,
		}
		result.PhoneNumber = phoneNumber

	case MFATypeBackupCodes:
		codes, hashes, err := e.newBackupCodes(userID)
		if err != nil {
			return nil, err
		}
		record.State = stores.StateEnabled
		record.Backup = &stores.BackupPayload{Hashes: hashes}
		result.BackupCodes = codes

	default:
		return nil, ErrInvalidMFAType
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	if err := e.methodStore.Save(opCtx, record); err != nil {
		e.emitAudit(ctx, auditEventMFASetup, false, userID, "", typ.String(), err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFASetup)
	e.emitAudit(ctx, auditEventMFASetup, true, userID, "", typ.String(), nil, nil)
	if typ == MFATypeBackupCodes {
		e.metricInc(MetricBackupCodeRegenerated)
		e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", typ.String(), nil, nil)
	}

	return result, nil
}

// DisableMFA marks the method disabled. The record is retained so the
// audit trail can distinguish disabled from never-configured; secret
// material and failure counters are cleared. Disabling a method that was
// never set up succeeds as a no-op.
//
// DisableMFA may return an error when input validation, dependency calls, or security checks fail.
// DisableMFA does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DisableMFA(ctx context.Context, userID string, typ MFAType) error {
	if e == nil || e.methodStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if typ != MFATypeTOTP && typ != MFATypeSMS && typ != MFATypeBackupCodes {
		return ErrInvalidMFAType
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	now := e.now().Unix()
	_, err := e.methodStore.Mutate(opCtx, userID, methodStoreType(typ), func(record *stores.MethodRecord) (bool, error) {
		record.State = stores.StateDisabled
		record.FailedAttempts = 0
		record.LockedUntil = 0
		record.UpdatedAt = now

		switch record.Type {
		case stores.TypeTOTP:
			record.TOTP.Secret = nil
			record.TOTP.LastCounter = 0
		case stores.TypeSMS:
			record.SMS.CodeSet = false
			record.SMS.CodeHash = [32]byte{}
			record.SMS.CodeExpiresAt = 0
		case stores.TypeBackupCodes:
			record.Backup.Hashes = nil
		}

		return true, nil
	})
	if err != nil {
		if errors.Is(err, stores.ErrMethodRecordNotFound) {
			// Never configured means already not enabled, so disabling
			// is an idempotent no-op.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if typ == MFATypeSMS && e.smsLimiter != nil {
		// A re-enrollment should not inherit the old issuance budget.
		if err := e.smsLimiter.ResetSMSIssue(opCtx, userID); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, "", typ.String(), nil, nil)

	return nil
}

// MFAStatus returns a read-only snapshot of every configured method for
// the user. Methods never set up are simply absent from the result.
//
// MFAStatus may return an error when input validation, dependency calls, or security checks fail.
// MFAStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MFAStatus(ctx context.Context, userID string) ([]MethodStatus, error) {
	if e == nil || e.methodStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	statuses := make([]MethodStatus, 0, 3)
	for _, typ := range []MFAType{MFATypeTOTP, MFATypeSMS, MFATypeBackupCodes} {
		record, err := e.methodStore.Get(opCtx, userID, methodStoreType(typ))
		if err != nil {
			if errors.Is(err, stores.ErrMethodRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		status := MethodStatus{
			Type:           typ,
			State:          MethodState(record.State),
			FailedAttempts: int(record.FailedAttempts),
			CreatedAt:      time.Unix(record.CreatedAt, 0),
			UpdatedAt:      time.Unix(record.UpdatedAt, 0),
		}
		if record.LockedUntil > 0 {
			status.LockedUntil = time.Unix(record.LockedUntil, 0)
		}
		if record.LastUsedAt > 0 {
			status.LastUsedAt = time.Unix(record.LastUsedAt, 0)
		}
		if record.SMS != nil {
			status.PhoneNumber = record.SMS.PhoneNumber
		}
		if record.Backup != nil {
			status.RemainingBackupCodes = len(record.Backup.Hashes)
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (e *Engine) newBackupCodes(userID string) ([]string, [][32]byte, error) {
	count := e.config.Backup.CodeCount
	length := e.config.Backup.CodeLength

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(length, nil)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, internal.FormatBackupCode(code))
		hashes = append(hashes, internal.BackupCodeHash(userID, code))
	}

	return codes, hashes, nil
}
