// Package stores contains the Redis persistence layer for multi-factor
// method records.
package stores
