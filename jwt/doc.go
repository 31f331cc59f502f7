// Package jwt mints and verifies signed access-token credentials whose
// IDs anchor the Redis-backed lifecycle records, using configured signing
// keys and strict validation semantics suitable for low-latency paths.
package jwt
