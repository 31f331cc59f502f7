// Package rate provides the Redis-backed fixed-window counter used to
// throttle SMS challenge issuance.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// prefix:
//   - smsq: — SMS issuance per-user
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in the engine).
//   - Be imported outside the authkit module.
package rate
