package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when a check is denied.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownAction means the action has no policy. It is a
	// configuration error, never an implicit allow.
	ErrUnknownAction = errors.New("rate: unknown action")
)
