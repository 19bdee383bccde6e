// Package limiters holds the account lockout engine.
//
// Failed-login counters live on the user record and are updated through
// store.Users.RecordFailedLogin, a single atomic read-increment-lock
// operation, so concurrent failures cannot lose an increment or skip the
// lock transition.
//
// # Architecture boundaries
//
// Thresholds come from runtime settings on every call. Per-IP throttling
// belongs to internal/rate, not here.
//
// # What this package must NOT do
//
//   - Expire locks with a background sweep; expiry is evaluated lazily.
//   - Clear a permanent lock anywhere except UnlockAccount.
package limiters
