// Package authkit provides the token lifecycle and multi-factor verification
// engine for an identity backend: issuance, validation, rotation signaling,
// and revocation of access/refresh tokens on a Redis-backed TTL store, plus
// enrollment, verification, and failure-lockout handling for TOTP, SMS, and
// backup-code MFA methods.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Token values are opaque credentials minted by the caller
// (see the jwt subpackage for a ready-made issuer); the engine stores and
// compares them but never decodes them.
package authkit
