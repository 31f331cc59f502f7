package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillsec/authkit/internal/stores"
)

// RegenerateBackupCodes replaces the user's backup-code set with a fresh
// one and returns the plaintext codes for one-time display. All previous
// codes are invalidated, including unused ones, and the failure counter
// resets.
//
// The method must already be configured; use [Engine.SetupMFA] with
// [MFATypeBackupCodes] for first-time enrollment.
//
// RegenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RegenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.methodStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	codes, hashes, err := e.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	now := e.now().Unix()
	_, err = e.methodStore.Mutate(opCtx, userID, stores.TypeBackupCodes, func(record *stores.MethodRecord) (bool, error) {
		if record.State == stores.StateDisabled {
			return false, ErrMethodNotEnabled
		}

		record.Backup.Hashes = hashes
		record.State = stores.StateEnabled
		record.FailedAttempts = 0
		record.LockedUntil = 0
		record.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrMethodRecordNotFound):
			return nil, ErrMethodNotFound
		case errors.Is(err, ErrMethodNotEnabled):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", MFATypeBackupCodes.String(), nil, nil)

	return codes, nil
}
