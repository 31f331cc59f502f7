// Package internal holds random material generation and hashing helpers
// shared by the engine: backup codes, numeric one-time codes, and the
// owner-bound hashing applied before any code touches storage.
package internal
