// Package store implements the Redis-backed token store used by the
// lifecycle engine: TTL-bound access and refresh token records, a
// per-user sorted-set index ordered by issuance time, and atomic Lua
// paths for quota eviction and bulk revocation.
//
// Records are stored as versioned binary blobs. Refresh tokens are keyed
// by the SHA-256 hash of the token value; the plaintext value never
// reaches Redis.
package store
