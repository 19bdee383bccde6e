package panelauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/store"
)

const msgResetRequested = "If an account exists with that email, you will receive a password reset link shortly."

// RequestPasswordReset issues a reset link for the account registered
// under email. The outcome is the same whether or not such an account
// exists; only the mailer sees the difference.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) Outcome {
	if e == nil || e.store == nil {
		return e.fail(ctx, "password_reset_request", ErrEngineNotReady)
	}

	if err := e.enforce(ctx, rate.ActionPasswordReset, rateIdentifier(ctx), ""); err != nil {
		return e.fail(ctx, "password_reset_request", err)
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return e.fail(ctx, "password_reset_request", invalid("email", "Please enter a valid email address"))
	}

	e.metricInc(MetricPasswordResetRequest)
	done := rendered(map[string]any{"success": true, "message": msgResetRequested})

	u, err := e.store.FindUser(ctx, store.Where(store.Eq(store.FieldEmail, email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.emitAudit(ctx, auditEntry{
				action:   auditPasswordResetRequest,
				category: audit.CategoryUser,
				success:  true,
				metadata: map[string]any{"accountFound": false},
			})
			return done
		}
		return e.fail(ctx, "password_reset_request", err)
	}

	ttl := e.config.Security.ResetTokenTTL
	raw, _, err := e.issueToken(ctx, u.ID, store.PurposePasswordReset, ttl)
	if err != nil {
		return e.fail(ctx, "password_reset_request", err)
	}

	sent := e.notify(ctx, mail.TemplatePasswordReset, u, mail.Data{
		Link:      e.link(e.config.Routes.ResetPassword, raw),
		ExpiresIn: humanDuration(ttl),
	})

	e.emitAudit(ctx, auditEntry{
		action:       auditPasswordResetRequest,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"accountFound": true, "emailSent": sent},
	})
	return done
}

// ConsumePasswordResetToken validates and deletes a reset token and
// returns its user id. A token is accepted at most once.
func (e *Engine) ConsumePasswordResetToken(ctx context.Context, raw string) (string, error) {
	t, err := e.consumeToken(ctx, store.PurposePasswordReset, raw)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			e.metricInc(MetricPasswordResetFailure)
			e.emitAudit(ctx, auditEntry{
				action:   auditPasswordResetInvalid,
				category: audit.CategorySecurity,
				severity: audit.SeverityWarning,
				err:      err,
			})
		}
		return "", err
	}
	return t.UserID, nil
}

// ResetPassword sets a new password with a reset token. The new password
// is checked before the token is spent so a rejected password can be
// retried with the same link. On success every session of the user is
// revoked and a timed lockout is lifted; a permanent administrative lock
// stays in place.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) Outcome {
	if strings.TrimSpace(req.Token) == "" {
		return e.fail(ctx, "password_reset", invalid("token", "Invalid reset token"))
	}
	if err := validatePasswordFormat(req.NewPassword); err != nil {
		return e.fail(ctx, "password_reset", err)
	}
	if req.NewPassword != req.ConfirmPassword {
		return e.fail(ctx, "password_reset", ErrPasswordMismatch)
	}
	policy, err := e.passwordPolicy(ctx)
	if err != nil {
		return e.fail(ctx, "password_reset", err)
	}
	if err := policy.Validate(req.NewPassword); err != nil {
		return e.fail(ctx, "password_reset", err)
	}

	userID, err := e.ConsumePasswordResetToken(ctx, req.Token)
	if err != nil {
		return e.fail(ctx, "password_reset", err)
	}

	u, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrTokenInvalid
		}
		return e.fail(ctx, "password_reset", err)
	}

	hash, err := e.passwordHash.Hash(req.NewPassword)
	if err != nil {
		return e.fail(ctx, "password_reset", err)
	}
	now := e.now().UTC()
	if err := e.store.UpdatePassword(ctx, u.ID, hash, false, now); err != nil {
		return e.fail(ctx, "password_reset", err)
	}

	revoked, err := e.sessions.InvalidateUser(ctx, u.ID, "")
	if err != nil {
		return e.fail(ctx, "password_reset", err)
	}

	if u.IsLocked && u.LockedUntil != nil {
		if err := e.lockout.UnlockAccount(ctx, u.ID); err != nil {
			return e.fail(ctx, "password_reset", err)
		}
	} else if err := e.lockout.ClearFailedAttempts(ctx, u.ID); err != nil {
		return e.fail(ctx, "password_reset", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEntry{
		action:       auditPasswordResetComplete,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"sessionsRevoked": revoked},
	})
	e.notify(ctx, mail.TemplatePasswordChanged, u, mail.Data{})

	out := redirectTo(e.config.Routes.Login + "?reset=success")
	out.ClearSession = true
	return out
}
