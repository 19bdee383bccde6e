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

const msgVerificationResent = "If an unverified account exists with that email, a new verification link has been sent."

// sendVerification issues a verification token for u and mails the link.
// It reports whether the mail went out.
func (e *Engine) sendVerification(ctx context.Context, u *store.User) (bool, error) {
	ttl, err := e.verificationTTL(ctx)
	if err != nil {
		return false, err
	}
	raw, _, err := e.issueToken(ctx, u.ID, store.PurposeEmailVerification, ttl)
	if err != nil {
		return false, err
	}

	sent := e.notify(ctx, mail.TemplateEmailVerification, u, mail.Data{
		Link:      e.link(e.config.Routes.VerifyEmail, raw),
		ExpiresIn: humanDuration(ttl),
	})

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEntry{
		action:       auditEmailVerificationSent,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      sent,
	})
	return sent, nil
}

// SendVerificationEmail mails a fresh verification link to the caller.
// Any earlier link stops working.
func (e *Engine) SendVerificationEmail(ctx context.Context, actor *AuthContext) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	sent, err := e.sendVerification(ctx, u)
	if err != nil {
		return err
	}
	if !sent {
		return ErrEmailDelivery
	}
	return nil
}

// ResendVerification is the signed-out variant of SendVerificationEmail,
// used when login is refused for an unverified address. The outcome does
// not reveal whether the address belongs to an unverified account.
func (e *Engine) ResendVerification(ctx context.Context, email string) Outcome {
	if err := e.enforce(ctx, rate.ActionPasswordReset, rateIdentifier(ctx), ""); err != nil {
		return e.fail(ctx, "resend_verification", err)
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return e.fail(ctx, "resend_verification", invalid("email", "Please enter a valid email address"))
	}

	done := rendered(map[string]any{"success": true, "message": msgVerificationResent})

	u, err := e.store.FindUser(ctx, store.Where(store.Eq(store.FieldEmail, email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return done
		}
		return e.fail(ctx, "resend_verification", err)
	}
	if u.EmailVerified || u.IsDisabled {
		return done
	}

	if _, err := e.sendVerification(ctx, u); err != nil {
		return e.fail(ctx, "resend_verification", err)
	}
	return done
}

// VerifyEmail marks the address behind a verification token as verified.
// The token is spent whether or not the address was already verified.
func (e *Engine) VerifyEmail(ctx context.Context, raw string) Outcome {
	if strings.TrimSpace(raw) == "" {
		return e.fail(ctx, "verify_email", invalid("token", "No verification token provided"))
	}

	t, err := e.consumeToken(ctx, store.PurposeEmailVerification, raw)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditEntry{
				action:   auditEmailVerified,
				category: audit.CategoryUser,
				err:      err,
			})
		}
		return e.fail(ctx, "verify_email", err)
	}

	u, err := e.store.UserByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrTokenInvalid
		}
		return e.fail(ctx, "verify_email", err)
	}

	if !u.EmailVerified {
		if err := e.store.MarkEmailVerified(ctx, u.ID, e.now().UTC()); err != nil {
			return e.fail(ctx, "verify_email", err)
		}
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEntry{
		action:       auditEmailVerified,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})

	return rendered(map[string]any{
		"success": true,
		"message": "Your email address has been verified.",
	})
}
