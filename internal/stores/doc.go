// Package stores provides Redis-backed, short-lived records for the
// pending two-factor step.
//
// # Design
//
// A record is versioned, binary-encoded and stored with a TTL equal to the
// marker lifetime. RecordFailure uses WATCH/MULTI optimistic transactions
// with retry on contention. Consume is a single DEL, so concurrent
// redemptions of one marker see exactly one winner.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for challenge
// records. It does NOT sign markers, verify codes, or make authentication
// decisions.
//
// # What this package must NOT do
//
//   - Import the root panelauth package or any sibling internal package.
//   - Store TOTP secrets or codes.
package stores
