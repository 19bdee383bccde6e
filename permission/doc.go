// Package permission resolves role-based permissions and manages roles,
// role assignments and node-scoped grants.
//
// # Resolution
//
// A user's permission set is the deduplicated union of the permission
// strings of every role the user holds. The [Admin] permission satisfies
// every check. Node-scoped grants are consulted only after the global
// check fails, and grants whose expiry has passed are ignored without a
// cleanup sweep.
//
// # Architecture boundaries
//
// The [Resolver] reads the store on every call and caches nothing, so an
// admin change takes effect on the very next check. The [Catalog] is an
// in-memory list of known permission names used to validate role edits.
//
// # What this package must NOT do
//
//   - Cache permission sets across calls.
//   - Import the root panelauth package, session, or HTTP code.
//   - Delete system roles or roles that are still assigned.
package permission
