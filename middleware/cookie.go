package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/panelauth"
)

const (
	DefaultSessionCookie = "auth-session"
	DefaultPendingCookie = "2fa-pending"
)

// CookieTransport decides the cookie attributes for the opaque tokens the
// Engine hands out. The zero value is usable and uses secure cookies.
type CookieTransport struct {
	SessionName string
	PendingName string
	Path        string
	Domain      string
	// Insecure drops the Secure attribute, for plain-HTTP development.
	Insecure bool
	SameSite http.SameSite

	now func() time.Time
}

func (c *CookieTransport) sessionName() string {
	if c.SessionName == "" {
		return DefaultSessionCookie
	}
	return c.SessionName
}

func (c *CookieTransport) pendingName() string {
	if c.PendingName == "" {
		return DefaultPendingCookie
	}
	return c.PendingName
}

func (c *CookieTransport) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// SessionToken returns the raw session token of r, or "".
func (c *CookieTransport) SessionToken(r *http.Request) string {
	return cookieValue(r, c.sessionName())
}

// PendingToken returns the pending two-factor marker of r, or "".
func (c *CookieTransport) PendingToken(r *http.Request) string {
	return cookieValue(r, c.pendingName())
}

// Apply writes the cookie instructions of out. It must run before the
// response body or a redirect is written.
func (c *CookieTransport) Apply(w http.ResponseWriter, out panelauth.Outcome) {
	if out.ClearSession {
		c.ClearSession(w)
	}
	if out.ClearPendingTwoFactor {
		replaceCookie(w, c.expired(c.pendingName()))
	}
	if out.Session != nil {
		c.SetSession(w, out.Session.Token, out.Session.ExpiresAt)
	}
	if out.PendingTwoFactor != nil {
		replaceCookie(w, c.cookie(c.pendingName(), out.PendingTwoFactor.Token, out.PendingTwoFactor.ExpiresAt))
	}
}

// SetSession (re)writes the session cookie, replacing one already queued
// on w.
func (c *CookieTransport) SetSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	replaceCookie(w, c.cookie(c.sessionName(), token, expiresAt))
}

// ClearSession expires the session cookie, replacing one already queued
// on w.
func (c *CookieTransport) ClearSession(w http.ResponseWriter) {
	replaceCookie(w, c.expired(c.sessionName()))
}

// replaceCookie writes ck after dropping any Set-Cookie header for the
// same name, so a response never carries two values for one cookie.
func replaceCookie(w http.ResponseWriter, ck *http.Cookie) {
	h := w.Header()
	prefix := ck.Name + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(w, ck)
}

func (c *CookieTransport) cookie(name, value string, expiresAt time.Time) *http.Cookie {
	maxAge := int(expiresAt.Sub(c.clock()).Seconds())
	if maxAge < 1 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.path(),
		Domain:   c.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: c.sameSite(),
	}
}

func (c *CookieTransport) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.path(),
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: c.sameSite(),
	}
}

func (c *CookieTransport) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

func (c *CookieTransport) sameSite() http.SameSite {
	if c.SameSite == 0 {
		return http.SameSiteLaxMode
	}
	return c.SameSite
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
