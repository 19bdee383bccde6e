// Package password implements secret hashing with Argon2id and the password
// composition policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the composition [Policy].
// Where the policy values come from (runtime configuration) and password
// reuse checks are decided by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other panelauth package.
//   - Log plaintext secrets or hash parameters.
package password
