package authkit

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by authkit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Store   StoreConfig
	Tokens  TokenConfig
	TOTP    TOTPConfig
	SMS     SMSConfig
	Backup  BackupConfig
	Lockout LockoutConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig defines a public type used by authkit APIs.
//
// StoreConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type StoreConfig struct {
	RedisPrefix  string
	OpTimeout    time.Duration
	MethodPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authkit APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// MaxTokensPerUser bounds the per-user refresh-token index. Issuing
	// beyond the bound evicts the oldest surviving entries (FIFO), so the
	// index always reflects the most recently issued tokens.
	MaxTokensPerUser int

	// RotationThreshold is how close to expiry an access token must be
	// before ShouldRotate advises the caller to mint a fresh pair.
	RotationThreshold time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// TOTPConfig defines a public type used by authkit APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// SMSConfig defines a public type used by authkit APIs.
//
// SMSConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SMSConfig struct {
	CodeDigits int
	CodeTTL    time.Duration

	// Issue throttle bounds how often a fresh code can be minted per user.
	// Delivery is the caller's concern; the throttle protects the transport
	// budget and blunts SMS-pumping abuse.
	ThrottleEnabled    bool
	MaxIssuesPerWindow int
	ThrottleWindow     time.Duration
}

// BackupConfig defines a public type used by authkit APIs.
//
// BackupConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type BackupConfig struct {
	CodeCount  int
	CodeLength int
}

// LockoutConfig defines a public type used by authkit APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	// Threshold is the number of consecutive verification failures that
	// locks a method.
	Threshold int

	// Duration is how long the method stays locked. After the window the
	// failure counter resets on the next attempt.
	Duration time.Duration
}

// AuditConfig defines a public type used by authkit APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authkit APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			RedisPrefix:  "ak",
			OpTimeout:    2 * time.Second,
			MethodPrefix: "mm",
		},
		Tokens: TokenConfig{
			MaxTokensPerUser:  5,
			RotationThreshold: 5 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:    "",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		SMS: SMSConfig{
			CodeDigits:         6,
			CodeTTL:            5 * time.Minute,
			ThrottleEnabled:    true,
			MaxIssuesPerWindow: 5,
			ThrottleWindow:     15 * time.Minute,
		},
		Backup: BackupConfig{
			CodeCount:  10,
			CodeLength: 10,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the baseline configuration. Callers adjust fields
// and pass the result to [Builder.WithConfig].
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(c Config) Config {
	// All fields are value types; copying the struct is a deep copy.
	return c
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Store
	if c.Store.RedisPrefix == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}
	if c.Store.MethodPrefix == "" {
		return errors.New("Store MethodPrefix must not be empty")
	}
	if c.Store.OpTimeout <= 0 {
		return errors.New("Store OpTimeout must be > 0")
	}

	// Tokens
	if c.Tokens.MaxTokensPerUser <= 0 {
		return errors.New("Tokens MaxTokensPerUser must be > 0")
	}
	if c.Tokens.RotationThreshold <= 0 {
		return errors.New("Tokens RotationThreshold must be > 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// SMS
	if c.SMS.CodeDigits < 6 || c.SMS.CodeDigits > 10 {
		return errors.New("SMS CodeDigits must be between 6 and 10")
	}
	if c.SMS.CodeTTL <= 0 {
		return errors.New("SMS CodeTTL must be > 0")
	}
	if c.SMS.ThrottleEnabled {
		if c.SMS.MaxIssuesPerWindow <= 0 {
			return errors.New("SMS MaxIssuesPerWindow must be > 0 when the issue throttle is enabled")
		}
		if c.SMS.ThrottleWindow <= 0 {
			return errors.New("SMS ThrottleWindow must be > 0 when the issue throttle is enabled")
		}
	}

	// Backup codes
	if c.Backup.CodeCount <= 0 {
		return errors.New("Backup CodeCount must be > 0")
	}
	if c.Backup.CodeLength < 8 {
		return errors.New("Backup CodeLength must be >= 8")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
