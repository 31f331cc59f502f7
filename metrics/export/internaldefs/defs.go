package internaldefs

import (
	authkit "github.com/quillsec/authkit"
)

// CounterDef defines a public type used by authkit APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authkit APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the verification engine.
var CounterDefs = []CounterDef{
	{ID: authkit.MetricAccessIssued, Name: "authkit_access_issued_total", Help: "Issued access tokens."},
	{ID: authkit.MetricRefreshIssued, Name: "authkit_refresh_issued_total", Help: "Issued refresh tokens."},
	{ID: authkit.MetricQuotaEvicted, Name: "authkit_quota_evicted_total", Help: "Refresh tokens evicted by the per-user quota."},
	{ID: authkit.MetricValidateSuccess, Name: "authkit_validate_success_total", Help: "Successful token validations."},
	{ID: authkit.MetricValidateFailure, Name: "authkit_validate_failure_total", Help: "Failed token validations."},
	{ID: authkit.MetricTokenInvalidated, Name: "authkit_token_invalidated_total", Help: "Invalidated token records."},
	{ID: authkit.MetricLogoutAll, Name: "authkit_logout_all_total", Help: "Logout-all operations."},
	{ID: authkit.MetricRotationSignaled, Name: "authkit_rotation_signaled_total", Help: "Rotation recommendations issued near expiry."},
	{ID: authkit.MetricMFASetup, Name: "authkit_mfa_setup_total", Help: "MFA method enrollments."},
	{ID: authkit.MetricMFADisabled, Name: "authkit_mfa_disabled_total", Help: "MFA method disable operations."},
	{ID: authkit.MetricMFAVerifySuccess, Name: "authkit_mfa_verify_success_total", Help: "Successful MFA verifications."},
	{ID: authkit.MetricMFAVerifyFailure, Name: "authkit_mfa_verify_failure_total", Help: "Failed MFA verifications."},
	{ID: authkit.MetricMFAReplayAttempt, Name: "authkit_mfa_replay_attempt_total", Help: "Detected MFA replay attempts."},
	{ID: authkit.MetricMFALockout, Name: "authkit_mfa_lockout_total", Help: "MFA methods locked by the failure threshold."},
	{ID: authkit.MetricBackupCodeUsed, Name: "authkit_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: authkit.MetricBackupCodeFailed, Name: "authkit_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: authkit.MetricBackupCodeRegenerated, Name: "authkit_backup_code_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: authkit.MetricSMSCodeIssued, Name: "authkit_sms_code_issued_total", Help: "Issued SMS one-time codes."},
	{ID: authkit.MetricSMSRateLimited, Name: "authkit_sms_rate_limited_total", Help: "Rate-limited SMS issuance attempts."},
}

// HistogramDefs is an exported constant or variable used by the verification engine.
var HistogramDefs = []HistogramDef{
	{ID: authkit.MetricValidateLatency, Name: "authkit_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the verification engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the verification engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
