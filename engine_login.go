package panelauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/internal/stores"
	"github.com/MrEthical07/panelauth/jwt"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/store"
)

// Login runs the password step of a login.
//
// The steps are: rate limit by client address, format validation, lookup,
// lockout check, password verification, counter reset, disabled and
// email-verification gates, then either a pending two-factor marker or a
// new session. Unknown usernames and wrong passwords produce the same
// failure.
func (e *Engine) Login(ctx context.Context, req LoginRequest) Outcome {
	if e == nil || e.store == nil {
		return e.fail(ctx, "login", ErrEngineNotReady)
	}

	if err := e.enforce(ctx, rate.ActionLogin, rateIdentifier(ctx), ""); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return e.fail(ctx, "login", err)
	}

	username := normalizeUsername(req.Username)
	if err := validateUsername(username); err != nil {
		return e.fail(ctx, "login", err)
	}
	if err := validatePasswordFormat(req.Password); err != nil {
		return e.fail(ctx, "login", err)
	}

	u, err := e.store.FindUser(ctx, store.Where(store.Eq(store.FieldUsername, username)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEntry{
				action:   auditLoginFailed,
				err:      ErrInvalidCredentials,
				metadata: map[string]any{"username": username, "reason": "user_not_found"},
			})
			return e.fail(ctx, "login", ErrInvalidCredentials)
		}
		return e.fail(ctx, "login", err)
	}

	status, err := e.lockout.IsAccountLocked(ctx, u.ID)
	if err != nil {
		return e.fail(ctx, "login", err)
	}
	if status.Locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEntry{
			action:       auditLoginWhileLocked,
			category:     audit.CategorySecurity,
			severity:     audit.SeverityWarning,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrAccountLocked,
			errMessage:   status.Reason,
			metadata:     map[string]any{"permanent": status.Permanent},
		})
		return e.fail(ctx, "login", &LockedError{Until: status.LockedUntil, now: e.now()})
	}

	if !e.passwordHash.Matches(req.Password, u.PasswordHash) {
		return e.loginPasswordFailure(ctx, u)
	}

	if err := e.lockout.ClearFailedAttempts(ctx, u.ID); err != nil {
		return e.fail(ctx, "login", err)
	}

	if u.IsDisabled {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEntry{
			action:       auditLoginFailed,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrAccountDisabled,
			metadata:     map[string]any{"reason": "account_disabled"},
		})
		return e.fail(ctx, "login", ErrAccountDisabled)
	}

	if !u.EmailVerified {
		required, err := e.settings.Bool(ctx, SettingEmailVerificationRequired)
		if err != nil {
			return e.fail(ctx, "login", err)
		}
		if required {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEntry{
				action:       auditLoginFailed,
				userID:       u.ID,
				resourceType: "user",
				resourceID:   u.ID,
				err:          ErrEmailUnverified,
				metadata:     map[string]any{"reason": "email_unverified"},
			})
			return e.fail(ctx, "login", ErrEmailUnverified)
		}
	}

	e.upgradePasswordHash(ctx, u, req.Password)

	if u.TwoFactorEnabled && u.TOTPSecret != "" {
		return e.beginPendingTwoFactor(ctx, u)
	}

	return e.completeLogin(ctx, u, nil)
}

func (e *Engine) loginPasswordFailure(ctx context.Context, u *store.User) Outcome {
	e.metricInc(MetricLoginFailure)

	res, err := e.lockout.RecordFailedLogin(ctx, u.ID)
	if err != nil {
		return e.fail(ctx, "login", err)
	}

	if res.Locked {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEntry{
			action:       auditAccountLocked,
			category:     audit.CategorySecurity,
			severity:     audit.SeverityWarning,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrAccountLocked,
			errMessage:   "Account locked after too many failed login attempts",
			metadata:     map[string]any{"lockedUntil": res.LockedUntil},
		})
		d := mail.Data{}
		if res.LockedUntil != nil {
			d.LockedUntil = res.LockedUntil.UTC().Format("2006-01-02 15:04 MST")
		}
		e.notify(ctx, mail.TemplateAccountLocked, u, d)
		return e.fail(ctx, "login", &LockedError{Until: res.LockedUntil, now: e.now()})
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditLoginFailed,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		err:          ErrInvalidCredentials,
		metadata: map[string]any{
			"reason":            "invalid_password",
			"attemptsRemaining": res.AttemptsRemaining,
		},
	})

	f := e.failure(ctx, "login", ErrInvalidCredentials)
	if e.config.Security.RevealRemainingAttempts {
		remaining := res.AttemptsRemaining
		f.AttemptsRemaining = &remaining
	}
	return errorOutcome(f)
}

// upgradePasswordHash rehashes a password stored with outdated
// parameters. Failures are logged; the login proceeds.
func (e *Engine) upgradePasswordHash(ctx context.Context, u *store.User, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(plain)
	if err != nil {
		e.log.Warn(ctx, "password rehash failed", "user_id", u.ID, "error", err)
		return
	}
	if err := e.store.UpdatePassword(ctx, u.ID, hash, u.RequirePasswordChange, e.now().UTC()); err != nil {
		e.log.Warn(ctx, "password rehash not stored", "user_id", u.ID, "error", err)
		return
	}
	u.PasswordHash = hash
}

// beginPendingTwoFactor issues the marker of a login that still owes its
// second factor. The marker's jti is registered in Redis so it can be
// consumed exactly once.
func (e *Engine) beginPendingTwoFactor(ctx context.Context, u *store.User) Outcome {
	token, jti, expiresAt, err := e.jwtManager.CreatePending(u.ID)
	if err != nil {
		return e.fail(ctx, "login", err)
	}
	rec := &stores.PendingChallenge{UserID: u.ID, ExpiresAt: expiresAt.Unix()}
	if err := e.pending.Save(ctx, jti, rec, e.jwtManager.TTL()); err != nil {
		return e.fail(ctx, "login", fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err))
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEntry{
		action:       auditTwoFactorChallenge,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})

	out := redirectTo(e.config.Routes.TwoFactor)
	out.PendingTwoFactor = &IssuedCookie{Token: token, ExpiresAt: expiresAt}
	return out
}

// completeLogin issues the session of a fully authenticated login.
func (e *Engine) completeLogin(ctx context.Context, u *store.User, metadata map[string]any) Outcome {
	cookie, err := e.issueSession(ctx, u.ID)
	if err != nil {
		return e.fail(ctx, "login", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEntry{
		action:       auditLogin,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     metadata,
	})

	out := redirectTo(e.landing(u))
	out.Session = cookie
	out.ClearPendingTwoFactor = true
	return out
}

// pendingUser resolves a pending marker to its user without consuming it.
// Every failure is ErrPendingTwoFactorInvalid.
func (e *Engine) pendingUser(ctx context.Context, marker string) (*store.User, string, error) {
	if marker == "" {
		return nil, "", ErrPendingTwoFactorInvalid
	}
	claims, err := e.jwtManager.ParsePending(marker)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrPendingTwoFactorInvalid, err)
	}
	rec, err := e.pending.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
			return nil, "", fmt.Errorf("%w: %v", ErrPendingTwoFactorInvalid, err)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if rec.UserID != claims.Subject {
		return nil, "", ErrPendingTwoFactorInvalid
	}

	u, err := e.store.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.dropPending(ctx, claims.ID)
			return nil, "", ErrPendingTwoFactorInvalid
		}
		return nil, "", err
	}
	return u, claims.ID, nil
}

// JWTManager exposes the pending-marker signer; the HTTP layer uses it to
// tell a pending marker from garbage before routing.
func (e *Engine) JWTManager() *jwt.Manager {
	return e.jwtManager
}
