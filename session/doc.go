// Package session issues, validates, renews and revokes authenticated
// sessions.
//
// The raw session token is handed to the caller once. Only its SHA-256
// hash is stored, as the session id, so a presented token is looked up in
// O(1) without the store ever holding a usable credential.
//
// # Architecture boundaries
//
// This package owns session semantics only. Cookies belong to the HTTP
// transport in middleware; authorization decisions belong to the Engine.
//
// # What this package must NOT do
//
//   - Return an error for an unknown, malformed or expired token; those
//     are "not authenticated", reported as nil results.
//   - Extend a session that has already expired.
package session
