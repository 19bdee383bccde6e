// Package jwt issues and verifies the pending two-factor marker: a short
// lived signed token (purpose "2fa_pending") that proves the password step
// succeeded. The marker never authenticates a request on its own; it only
// unlocks the two-factor verification step, and its jti is made single use
// by the caller.
package jwt
