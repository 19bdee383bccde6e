// Package rate implements the per-action sliding-window rate limiter.
//
// # Window semantics
//
// Every recorded attempt is a member of a Redis sorted set scored by its
// unix-millisecond timestamp. A check trims members older than the window
// and counts the rest, so the window slides with the clock instead of
// resetting at fixed boundaries. Key prefixes:
//   - rl:  attempt log per action and identifier
//   - rlb: block marker set on the first denial when the policy has a block duration
//
// Policies are resolved on every call, so edits to the runtime settings
// apply to the next request.
//
// # What this package must NOT do
//
//   - Decide what an identifier is (IP, user id); callers choose.
//   - Silently allow an action that has no policy.
package rate
