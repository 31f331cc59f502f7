package authkit

import "errors"

var (
	// ErrMethodNotFound is an exported constant or variable used by the verification engine.
	ErrMethodNotFound = errors.New("mfa method not found")
	// ErrMethodNotEnabled is an exported constant or variable used by the verification engine.
	ErrMethodNotEnabled = errors.New("mfa method not enabled")
	// ErrMethodLocked is an exported constant or variable used by the verification engine.
	ErrMethodLocked = errors.New("mfa method locked")
	// ErrCodeInvalid is an exported constant or variable used by the verification engine.
	ErrCodeInvalid = errors.New("invalid verification code")
	// ErrCodeExpired is an exported constant or variable used by the verification engine.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrExpiryInPast is an exported constant or variable used by the verification engine.
	ErrExpiryInPast = errors.New("token expiry is in the past")
	// ErrInvalidMFAType is an exported constant or variable used by the verification engine.
	ErrInvalidMFAType = errors.New("unsupported mfa method type")
	// ErrMissingPhoneNumber is an exported constant or variable used by the verification engine.
	ErrMissingPhoneNumber = errors.New("sms method requires a phone number")
	// ErrSMSRateLimited is an exported constant or variable used by the verification engine.
	ErrSMSRateLimited = errors.New("sms code issuance rate limited")
	// ErrNoSMSCodeIssued is an exported constant or variable used by the verification engine.
	ErrNoSMSCodeIssued = errors.New("no sms code has been issued")
	// ErrInvalidInput is an exported constant or variable used by the verification engine.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable is an exported constant or variable used by the verification engine.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
