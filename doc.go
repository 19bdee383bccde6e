// Package panelauth is the authentication and access-control engine of an
// admin panel: password login with account lockout and rate limiting,
// database-backed sessions, TOTP two-factor authentication with backup
// codes, role and node-scoped permissions, password reset and email
// verification.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. The engine keeps no per-user state in memory; every
// decision re-reads the store, Redis and the runtime settings, so a lock,
// a role change or a setting change applies to the very next request.
//
// # Outcomes
//
// Browser-facing flows (Login, Register, VerifyTwoFactorLogin, ChangePassword,
// ResetPassword, ...) return an [Outcome]: a redirect, a re-render, or a
// [Failure], plus cookie instructions for the transport layer. Programmatic
// operations return plain errors; [Classify] maps them to the same Failure
// shape.
//
// # Architecture boundaries
//
// panelauth owns orchestration, auditing and metrics. Credential storage is
// behind the interfaces of package store; Redis is used only for rate-limit
// attempt logs and pending two-factor markers. HTTP concerns live in
// package middleware and are never imported from here.
package panelauth
