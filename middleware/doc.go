// Package middleware is the HTTP side of panelauth: it carries the session
// and pending two-factor tokens in cookies and turns Engine results into
// request context.
//
// # Pieces
//
//   - [CookieTransport] sets and clears the cookies named by an Outcome.
//   - [ClientInfo] records the caller's address and user agent for rate
//     limiting and audit.
//   - [LoadSession] validates the session cookie when present.
//   - [RequireSession] and [RequirePermission] refuse requests without a
//     session or without a permission.
//
// Authentication decisions stay in the Engine; this package only moves
// tokens between HTTP and Engine calls.
package middleware
