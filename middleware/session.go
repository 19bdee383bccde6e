package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/panelauth"
)

// SessionValidator is the part of *panelauth.Engine the session guards
// use.
type SessionValidator interface {
	ValidateSession(ctx context.Context, rawToken string) (*panelauth.AuthContext, error)
}

// PermissionChecker re-resolves permissions against the store.
// *permission.Resolver satisfies it.
type PermissionChecker interface {
	HasAny(ctx context.Context, userID string, perms ...string) (bool, error)
}

type authContextKey struct{}

// AuthFromContext returns the AuthContext stored by LoadSession.
func AuthFromContext(ctx context.Context) (*panelauth.AuthContext, bool) {
	a, ok := ctx.Value(authContextKey{}).(*panelauth.AuthContext)
	return a, ok && a != nil
}

// WithAuth stores a on ctx.
func WithAuth(ctx context.Context, a *panelauth.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// ClientInfo attaches the caller's address and user agent to the request
// context. X-Forwarded-For is honored only when trustProxy is set.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := panelauth.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = panelauth.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LoadSession validates the session cookie when one is present. A valid
// session is stored in the request context, and its cookie is rewritten
// only when validation renewed the expiry; an invalid one is cleared. Requests without a
// cookie pass through untouched.
func LoadSession(v SessionValidator, t *CookieTransport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := t.SessionToken(r)
			if raw == "" || v == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor, err := v.ValidateSession(r.Context(), raw)
			if err != nil {
				if !isSessionRejection(err) {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				t.ClearSession(w)
				next.ServeHTTP(w, r)
				return
			}

			if actor.Renewed {
				t.SetSession(w, raw, actor.Session.ExpiresAt)
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), actor)))
		})
	}
}

func isSessionRejection(err error) bool {
	return errors.Is(err, panelauth.ErrUnauthorized) ||
		errors.Is(err, panelauth.ErrAccountLocked) ||
		errors.Is(err, panelauth.ErrAccountDisabled)
}

// RequireSession redirects requests without a session to loginPath.
func RequireSession(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := AuthFromContext(r.Context()); !ok {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits callers holding any of perms, checked against
// the store on every request. Callers without a session are sent to
// loginPath; callers without the permission get 403.
func RequirePermission(checker PermissionChecker, loginPath string, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := AuthFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			allowed, err := checker.HasAny(r.Context(), actor.UserID(), perms...)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
