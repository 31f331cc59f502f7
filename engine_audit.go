package authkit

import (
	"context"
	"errors"

	"github.com/quillsec/authkit/internal/rate"
	"github.com/quillsec/authkit/internal/stores"
	"github.com/quillsec/authkit/store"
)

const (
	auditEventAccessIssued         = "access_token_issued"
	auditEventRefreshIssued        = "refresh_token_issued"
	auditEventRefreshQuotaEvicted  = "refresh_quota_evicted"
	auditEventTokenInvalidated     = "token_invalidated"
	auditEventLogoutAll            = "logout_all"
	auditEventRotationSignaled     = "rotation_signaled"
	auditEventMFASetup             = "mfa_setup"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventSMSCodeIssued        = "sms_code_issued"
	auditEventSMSRateLimited       = "sms_rate_limited"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
)

// AuditErrorCode defines a public type used by authkit APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrMethodNotFound     AuditErrorCode = "method_not_found"
	auditErrMethodNotEnabled   AuditErrorCode = "method_not_enabled"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrExpiryInPast       AuditErrorCode = "expiry_in_past"
	auditErrInvalidMethodType  AuditErrorCode = "invalid_method_type"
	auditErrMissingPhoneNumber AuditErrorCode = "missing_phone_number"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrNoCodeIssued       AuditErrorCode = "no_code_issued"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tokenID string,
	method string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TokenID:   tokenID,
		Method:    method,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMethodNotFound),
		errors.Is(err, stores.ErrMethodRecordNotFound):
		return auditErrMethodNotFound
	case errors.Is(err, ErrMethodNotEnabled):
		return auditErrMethodNotEnabled
	case errors.Is(err, ErrMethodLocked):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrExpiryInPast):
		return auditErrExpiryInPast
	case errors.Is(err, ErrInvalidMFAType):
		return auditErrInvalidMethodType
	case errors.Is(err, ErrMissingPhoneNumber):
		return auditErrMissingPhoneNumber
	case errors.Is(err, ErrSMSRateLimited),
		errors.Is(err, rate.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrNoSMSCodeIssued):
		return auditErrNoCodeIssued
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, store.ErrRedisUnavailable),
		errors.Is(err, stores.ErrMethodBackend),
		errors.Is(err, rate.ErrRedisUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
