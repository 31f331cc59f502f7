package authkit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quillsec/authkit/store"
)

// IssueAccessToken persists an access token record under (userID, tokenID)
// with a TTL running to expiresAt. The token value itself is hashed before
// storage and never persisted in plaintext.
//
// IssueAccessToken may return an error when input validation, dependency calls, or security checks fail.
// IssueAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueAccessToken(ctx context.Context, userID, tokenID, tokenValue string, expiresAt time.Time) error {
	if e == nil || e.tokenStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" || tokenID == "" || tokenValue == "" {
		return fmt.Errorf("%w: userID, tokenID, and tokenValue are required", ErrInvalidInput)
	}

	now := e.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return ErrExpiryInPast
	}

	record := &store.AccessRecord{
		UserID:    userID,
		TokenID:   tokenID,
		TokenHash: sha256.Sum256([]byte(tokenValue)),
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	if err := e.tokenStore.SaveAccess(opCtx, record, ttl); err != nil {
		e.emitAudit(ctx, auditEventAccessIssued, false, userID, tokenID, "", err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccessIssued)
	e.emitAudit(ctx, auditEventAccessIssued, true, userID, tokenID, "", nil, nil)

	return nil
}

// IssueRefreshToken persists a refresh token record keyed by the SHA-256
// hash of tokenValue and appends it to the user's issuance-ordered index.
// When the per-user quota is exceeded the oldest surviving tokens are
// evicted atomically with the insert; their hex hashes are returned so
// callers can notify affected sessions.
//
// Device and IP metadata default to the values attached via
// [WithDeviceInfo] and [WithClientIP] when the explicit arguments are
// empty.
//
// IssueRefreshToken may return an error when input validation, dependency calls, or security checks fail.
// IssueRefreshToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueRefreshToken(
	ctx context.Context,
	userID, tokenValue string,
	expiresAt time.Time,
	deviceInfo, ipAddress string,
) ([]string, error) {
	if e == nil || e.tokenStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" || tokenValue == "" {
		return nil, fmt.Errorf("%w: userID and tokenValue are required", ErrInvalidInput)
	}

	now := e.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil, ErrExpiryInPast
	}

	if deviceInfo == "" {
		deviceInfo = deviceInfoFromContext(ctx)
	}
	if ipAddress == "" {
		ipAddress = clientIPFromContext(ctx)
	}

	record := &store.RefreshRecord{
		UserID:     userID,
		TokenHash:  sha256.Sum256([]byte(tokenValue)),
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
		IssuedAt:   now.UnixMilli(),
		ExpiresAt:  expiresAt.Unix(),
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	evicted, err := e.tokenStore.SaveRefresh(opCtx, record, ttl, e.config.Tokens.MaxTokensPerUser)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshIssued, false, userID, "", "", err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRefreshIssued)
	e.emitAudit(ctx, auditEventRefreshIssued, true, userID, "", "", nil, nil)

	if len(evicted) > 0 {
		e.metricAdd(MetricQuotaEvicted, uint64(len(evicted)))
		e.emitAudit(ctx, auditEventRefreshQuotaEvicted, true, userID, "", "", nil, func() map[string]string {
			return map[string]string{
				"evicted": strconv.Itoa(len(evicted)),
			}
		})
	}

	return evicted, nil
}

// ValidateAccessToken reports whether the access token identified by
// (userID, tokenID) exists, is unexpired, and matches tokenValue. A
// missing record and a hash mismatch are both reported as invalid with a
// nil error; errors are reserved for store faults.
//
// ValidateAccessToken may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccessToken(ctx context.Context, userID, tokenID, tokenValue string) (bool, error) {
	if e == nil || e.tokenStore == nil {
		return false, ErrEngineNotReady
	}
	if userID == "" || tokenID == "" || tokenValue == "" {
		return false, nil
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricValidateLatency, time.Since(start))
	}()

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	valid, err := e.tokenStore.VerifyAccess(opCtx, userID, tokenID, sha256.Sum256([]byte(tokenValue)))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if valid {
		e.metricInc(MetricValidateSuccess)
	} else {
		e.metricInc(MetricValidateFailure)
	}

	return valid, nil
}

// ValidateRefreshToken reports whether the refresh token exists and is
// unexpired for the user. Lookup is by token hash, so possession of the
// exact value is required.
//
// ValidateRefreshToken may return an error when input validation, dependency calls, or security checks fail.
// ValidateRefreshToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateRefreshToken(ctx context.Context, userID, tokenValue string) (bool, error) {
	if e == nil || e.tokenStore == nil {
		return false, ErrEngineNotReady
	}
	if userID == "" || tokenValue == "" {
		return false, nil
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricValidateLatency, time.Since(start))
	}()

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	_, err := e.tokenStore.GetRefresh(opCtx, userID, sha256.Sum256([]byte(tokenValue)))
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			e.metricInc(MetricValidateFailure)
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricValidateSuccess)
	return true, nil
}

// InvalidateAccessToken removes the access token record. Invalidating a
// token that is absent or already expired is a no-op, not an error.
//
// InvalidateAccessToken may return an error when input validation, dependency calls, or security checks fail.
// InvalidateAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) InvalidateAccessToken(ctx context.Context, userID, tokenID string) error {
	if e == nil || e.tokenStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" || tokenID == "" {
		return fmt.Errorf("%w: userID and tokenID are required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	existed, err := e.tokenStore.DeleteAccess(opCtx, userID, tokenID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if existed {
		e.metricInc(MetricTokenInvalidated)
		e.emitAudit(ctx, auditEventTokenInvalidated, true, userID, tokenID, "", nil, nil)
	}

	return nil
}

// InvalidateRefreshToken removes the refresh token record and its index
// entry. Invalidating an absent token is a no-op, not an error.
//
// InvalidateRefreshToken may return an error when input validation, dependency calls, or security checks fail.
// InvalidateRefreshToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) InvalidateRefreshToken(ctx context.Context, userID, tokenValue string) error {
	if e == nil || e.tokenStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" || tokenValue == "" {
		return fmt.Errorf("%w: userID and tokenValue are required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	existed, err := e.tokenStore.DeleteRefresh(opCtx, userID, sha256.Sum256([]byte(tokenValue)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if existed {
		e.metricInc(MetricTokenInvalidated)
		e.emitAudit(ctx, auditEventTokenInvalidated, true, userID, "", "", nil, nil)
	}

	return nil
}

// InvalidateAllForUser revokes every access and refresh token for the user
// in one atomic operation and returns how many live records were removed.
// Index entries whose records already lapsed via TTL are cleaned up but
// not counted.
//
// InvalidateAllForUser may return an error when input validation, dependency calls, or security checks fail.
// InvalidateAllForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	if e == nil || e.tokenStore == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	removed, err := e.tokenStore.DeleteAllForUser(opCtx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", "", err, nil)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricTokenInvalidated, uint64(removed))
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{
			"revoked": strconv.Itoa(removed),
		}
	})

	return removed, nil
}

// ShouldRotate reports whether the access token identified by
// (userID, tokenID) is within the configured rotation threshold of its
// expiry. Absent or already-expired tokens report false; callers should
// treat a failed validation separately.
//
// ShouldRotate may return an error when input validation, dependency calls, or security checks fail.
// ShouldRotate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ShouldRotate(ctx context.Context, userID, tokenID string) (bool, error) {
	if e == nil || e.tokenStore == nil {
		return false, ErrEngineNotReady
	}
	if userID == "" || tokenID == "" {
		return false, nil
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	record, err := e.tokenStore.GetAccess(opCtx, userID, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	remaining := time.Unix(record.ExpiresAt, 0).Sub(e.now())
	if remaining <= 0 {
		return false, nil
	}

	if remaining <= e.config.Tokens.RotationThreshold {
		e.metricInc(MetricRotationSignaled)
		e.emitAudit(ctx, auditEventRotationSignaled, true, userID, tokenID, "", nil, nil)
		return true, nil
	}

	return false, nil
}

// CountActiveTokens returns the number of live refresh tokens for the
// user. TTL-expired records are excluded even when their index entries
// have not been reaped yet.
//
// CountActiveTokens may return an error when input validation, dependency calls, or security checks fail.
// CountActiveTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CountActiveTokens(ctx context.Context, userID string) (int, error) {
	if e == nil || e.tokenStore == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	count, err := e.tokenStore.CountActiveRefresh(opCtx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// ActiveTokens returns metadata for the user's live refresh tokens,
// oldest first, for "active sessions" displays. Only token hashes are
// exposed; the credentials themselves are not recoverable.
//
// ActiveTokens may return an error when input validation, dependency calls, or security checks fail.
// ActiveTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ActiveTokens(ctx context.Context, userID string) ([]TokenInfo, error) {
	if e == nil || e.tokenStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	records, err := e.tokenStore.ActiveRefresh(opCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	infos := make([]TokenInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, TokenInfo{
			TokenHash:  fmt.Sprintf("%x", record.TokenHash),
			DeviceInfo: record.DeviceInfo,
			IPAddress:  record.IPAddress,
			IssuedAt:   time.UnixMilli(record.IssuedAt),
			ExpiresAt:  time.Unix(record.ExpiresAt, 0),
		})
	}

	return infos, nil
}
