// Package twofactor implements TOTP provisioning and verification and
// single-use backup codes.
//
// TOTP parameters are fixed for authenticator-app compatibility: SHA1,
// six digits, 30 second period. The verification window is a per-call
// argument because setup and login accept different clock drift.
//
// Backup codes are shown once as XXXX-XXXX-XXXX and stored as Argon2id
// hashes of their canonical form (upper-case, separators removed), so
// users may type them with or without dashes and in any case.
//
// # What this package must NOT do
//
//   - Persist secrets or codes; the Engine decides when state changes.
//   - Verify a code that is not exactly six digits.
package twofactor
