package authkit

import (
	"io"
	"time"

	internalaudit "github.com/quillsec/authkit/internal/audit"
	"github.com/quillsec/authkit/internal/stores"
)

// MFAType enumerates the supported second-factor mechanisms.
type MFAType uint8

const (
	// MFATypeTOTP is an exported constant or variable used by the verification engine.
	MFATypeTOTP MFAType = iota + 1
	// MFATypeSMS is an exported constant or variable used by the verification engine.
	MFATypeSMS
	// MFATypeBackupCodes is an exported constant or variable used by the verification engine.
	MFATypeBackupCodes
)

// String describes the string operation and its observable behavior.
//
// String does not mutate shared global state and can be used concurrently.
func (t MFAType) String() string {
	switch t {
	case MFATypeTOTP:
		return "totp"
	case MFATypeSMS:
		return "sms"
	case MFATypeBackupCodes:
		return "backup_codes"
	default:
		return "unknown"
	}
}

// MethodState is the lifecycle state of an MFA method row. The absence of a
// row stands in for "unconfigured"; an explicit Disabled state keeps the
// audit trail distinguishable from never-configured.
type MethodState uint8

const (
	// MethodStateEnrolling is an exported constant or variable used by the verification engine.
	MethodStateEnrolling = MethodState(stores.StateEnrolling)
	// MethodStateEnabled is an exported constant or variable used by the verification engine.
	MethodStateEnabled = MethodState(stores.StateEnabled)
	// MethodStateDisabled is an exported constant or variable used by the verification engine.
	MethodStateDisabled = MethodState(stores.StateDisabled)
)

// VerifyReason classifies why a verification attempt did not succeed.
type VerifyReason uint8

const (
	// ReasonNone is an exported constant or variable used by the verification engine.
	ReasonNone VerifyReason = iota
	// ReasonNotFound is an exported constant or variable used by the verification engine.
	ReasonNotFound
	// ReasonNotEnabled is an exported constant or variable used by the verification engine.
	ReasonNotEnabled
	// ReasonLocked is an exported constant or variable used by the verification engine.
	ReasonLocked
	// ReasonInvalidCode is an exported constant or variable used by the verification engine.
	ReasonInvalidCode
	// ReasonCodeExpired is an exported constant or variable used by the verification engine.
	ReasonCodeExpired
)

// String describes the string operation and its observable behavior.
//
// String does not mutate shared global state and can be used concurrently.
func (r VerifyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNotFound:
		return "not_found"
	case ReasonNotEnabled:
		return "not_enabled"
	case ReasonLocked:
		return "locked"
	case ReasonInvalidCode:
		return "invalid_code"
	case ReasonCodeExpired:
		return "code_expired"
	default:
		return "unknown"
	}
}

// VerifyResult is the typed outcome of [Engine.VerifyMFA]. Business-rule
// failures (not found, not enabled, locked, invalid code) are reported here,
// never as errors; the error return is reserved for infrastructure faults so
// a store outage can never be mistaken for a rejected credential.
type VerifyResult struct {
	Valid  bool
	Reason VerifyReason

	// RetryAfter is set when Reason is ReasonLocked: how long until the
	// lockout window ends.
	RetryAfter time.Duration

	// RemainingAttempts is the number of failures left before lockout.
	// Meaningful only when Valid is false and Reason is ReasonInvalidCode
	// or ReasonCodeExpired.
	RemainingAttempts int
}

// SetupResult carries the enrollment material returned by [Engine.SetupMFA].
// Secret material is shown once and never retrievable afterwards.
type SetupResult struct {
	Type MFAType

	// TOTP enrollment: base32 secret and otpauth:// provisioning URI.
	Secret       string
	ProvisionURI string

	// SMS enrollment: the primed phone number.
	PhoneNumber string

	// Backup-code enrollment: the plaintext one-time codes.
	BackupCodes []string
}

// MethodStatus is a read-only snapshot of one MFA method row, safe to expose
// to account-settings surfaces. It never contains secret material.
type MethodStatus struct {
	Type           MFAType
	State          MethodState
	FailedAttempts int
	LockedUntil    time.Time
	LastUsedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// PhoneNumber is populated for SMS methods.
	PhoneNumber string

	// RemainingBackupCodes is populated for backup-code methods.
	RemainingBackupCodes int
}

// TokenInfo describes one live refresh token, as returned by
// [Engine.ActiveTokens] for "active sessions" displays. The token credential
// itself is not recoverable; only its hash is persisted.
type TokenInfo struct {
	TokenHash  string
	DeviceInfo string
	IPAddress  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Clock supplies the current time to the engine. Production builds use the
// system clock; tests inject a manual clock to drive lockout windows and
// rotation thresholds without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func methodStoreType(t MFAType) stores.MethodType {
	return stores.MethodType(t)
}
