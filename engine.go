package panelauth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/limiters"
	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/internal/stores"
	"github.com/MrEthical07/panelauth/internal/token"
	"github.com/MrEthical07/panelauth/jwt"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/twofactor"
)

// Engine orchestrates authentication and access control. It holds no
// per-user state: every decision re-reads the store, Redis, and the
// runtime settings. All methods are safe for concurrent use.
type Engine struct {
	config       Config
	store        store.Store
	settings     *runtimecfg.Registry
	limiter      *rate.Limiter
	lockout      *limiters.Lockout
	sessions     *session.Manager
	twoFactor    *twofactor.Engine
	resolver     *permission.Resolver
	pending      *stores.PendingChallengeStore
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	mailer       mail.Sender
	templates    *mail.Templates
	audit        auditSink
	dispatcher   *audit.Dispatcher
	metrics      *Metrics
	log          logging.Logger
	now          func() time.Time
}

// Close flushes the async audit dispatcher, if any.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// AuditDropped returns how many events the async dispatcher dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the static configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Settings exposes the runtime settings registry.
func (e *Engine) Settings() *runtimecfg.Registry {
	return e.settings
}

// Permissions exposes the permission resolver for route guards.
func (e *Engine) Permissions() *permission.Resolver {
	return e.resolver
}

// RateLimiter exposes the limiter for transport-level throttling such as
// the api-general action.
func (e *Engine) RateLimiter() *rate.Limiter {
	return e.limiter
}

// PasswordHasher exposes the configured hasher for bootstrap tooling.
func (e *Engine) PasswordHasher() *password.Argon2 {
	return e.passwordHash
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
FAILURE HELPERS
====================================
*/

// failure converts err into a Failure. Internal failures are logged with
// their correlation id and, in verbose mode, carry the error text.
func (e *Engine) failure(ctx context.Context, op string, err error) Failure {
	f := Classify(err)
	if f.Kind == FailureInternal {
		e.metricInc(MetricInternalError)
		e.log.Error(ctx, "operation failed", "op", op, "correlation_id", f.CorrelationID, "error", err)
		if e.config.Debug.Verbose {
			f.Detail = err.Error()
		}
	}
	return f
}

func (e *Engine) fail(ctx context.Context, op string, err error) Outcome {
	return errorOutcome(e.failure(ctx, op, err))
}

// enforce checks and records one attempt of action for identifier. A
// denial is audited and returned as *RateLimitError.
func (e *Engine) enforce(ctx context.Context, action rate.Action, identifier, userID string) error {
	d, err := e.limiter.Enforce(ctx, identifier, action)
	if err == nil {
		return nil
	}
	if !errors.Is(err, rate.ErrRateLimited) {
		return err
	}
	rl := &RateLimitError{Action: action, RetryAfter: d.RetryAfter}
	e.emitRateLimit(ctx, auditEntry{userID: userID, metadata: map[string]any{"identifier": identifier}}, rl)
	return rl
}

// ThrottleRequest counts one API request against the general per-address
// limit. A denial returns *RateLimitError.
func (e *Engine) ThrottleRequest(ctx context.Context) error {
	if e == nil || e.limiter == nil {
		return ErrEngineNotReady
	}
	ip := ClientIP(ctx)
	if ip == "" {
		ip = "unknown"
	}
	return e.enforce(ctx, rate.ActionAPIGeneral, ip, "")
}

/*
====================================
SESSION ISSUE
====================================
*/

func (e *Engine) issueSession(ctx context.Context, userID string) (*IssuedCookie, error) {
	raw, err := e.sessions.GenerateToken()
	if err != nil {
		return nil, err
	}
	s, err := e.sessions.Create(ctx, raw, userID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return &IssuedCookie{Token: raw, ExpiresAt: s.ExpiresAt}, nil
}

// landing picks the post-login target.
func (e *Engine) landing(u *store.User) string {
	if u.RequirePasswordChange {
		return e.config.Routes.ChangePassword
	}
	return e.config.Routes.Home
}

/*
====================================
ACTOR CHECKS
====================================
*/

// authorize re-resolves the actor's permissions against the store and
// requires perm. Denials are audited.
func (e *Engine) authorize(ctx context.Context, actor *AuthContext, perm string) error {
	if actor == nil || actor.User == nil {
		return ErrUnauthorized
	}
	ok, err := e.resolver.Has(ctx, actor.User.ID, perm)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEntry{
			action:     auditAuthzDenied,
			category:   audit.CategorySecurity,
			severity:   audit.SeverityWarning,
			userID:     actor.User.ID,
			err:        ErrPermissionDenied,
			errMessage: "missing permission " + perm,
			metadata:   map[string]any{"permission": perm},
		})
		return ErrPermissionDenied
	}
	return nil
}

func requireActor(actor *AuthContext) error {
	if actor == nil || actor.User == nil {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) userByID(ctx context.Context, id string) (*store.User, error) {
	u, err := e.store.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

/*
====================================
SINGLE-USE TOKENS
====================================
*/

// issueToken stores the hash of a fresh token for (userID, purpose),
// superseding any earlier one, and returns the raw value.
func (e *Engine) issueToken(ctx context.Context, userID string, purpose store.TokenPurpose, ttl time.Duration) (string, time.Time, error) {
	raw, err := token.Generate()
	if err != nil {
		return "", time.Time{}, err
	}
	now := e.now().UTC()
	t := store.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		Hash:      token.Hash(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := e.store.ReplaceToken(ctx, t); err != nil {
		return "", time.Time{}, err
	}
	return raw, t.ExpiresAt, nil
}

// consumeToken deletes the token behind raw and returns it. Unknown,
// already used and expired tokens are all ErrTokenInvalid; an expired
// token is still removed.
func (e *Engine) consumeToken(ctx context.Context, purpose store.TokenPurpose, raw string) (*store.Token, error) {
	raw = strings.TrimSpace(raw)
	if !token.WellFormed(raw) {
		return nil, ErrTokenInvalid
	}
	t, err := e.store.ConsumeToken(ctx, purpose, token.Hash(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !e.now().Before(t.ExpiresAt) {
		return nil, ErrTokenInvalid
	}
	return t, nil
}

/*
====================================
EMAIL
====================================
*/

// link builds an absolute URL under BaseURL with a token query parameter.
func (e *Engine) link(path, token string) string {
	base := strings.TrimRight(e.config.BaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

// notify renders and sends a template. Delivery failures are logged and
// counted but never fail the calling flow.
func (e *Engine) notify(ctx context.Context, name string, u *store.User, d mail.Data) bool {
	if e.mailer == nil || e.templates == nil {
		return false
	}
	d.Name = u.DisplayName()
	d.Username = u.Username
	if d.IPAddress == "" {
		d.IPAddress = clientIPFromContext(ctx)
	}
	d.Year = e.now().Year()

	msg, err := e.templates.Render(name, u.Email, d)
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricEmailSendFailure)
		e.log.Warn(ctx, "email not sent", "template", name, "user_id", u.ID, "error", err)
		return false
	}
	return true
}

// humanDuration renders a token lifetime for email copy: "1 hour",
// "24 hours", "30 minutes".
func humanDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return strconv.Itoa(n) + " " + unit + "s"
	}
	if d >= time.Hour && d%time.Hour == 0 {
		return plural(int(d/time.Hour), "hour")
	}
	m := int(d / time.Minute)
	if m < 1 {
		m = 1
	}
	return plural(m, "minute")
}
