package panelauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
)

// Register creates a self-service account holding the default user role.
//
// When a mailer is configured a verification link is sent. If
// verification is required by the runtime settings no session is issued
// and the outcome redirects to the login page; otherwise the new user is
// signed in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) Outcome {
	if e == nil || e.store == nil {
		return e.fail(ctx, "register", ErrEngineNotReady)
	}

	enabled, err := e.settings.Bool(ctx, SettingRegistrationEnabled)
	if err != nil {
		return e.fail(ctx, "register", err)
	}
	if !enabled {
		return e.fail(ctx, "register", ErrRegistrationDisabled)
	}

	if err := e.enforce(ctx, rate.ActionRegister, rateIdentifier(ctx), ""); err != nil {
		return e.fail(ctx, "register", err)
	}

	u, err := e.newUser(ctx, req.Username, req.Email, req.Password, req.FirstName, req.LastName, true)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditEntry{
				action:   auditRegister,
				category: audit.CategoryUser,
				err:      err,
				metadata: map[string]any{"username": normalizeUsername(req.Username)},
			})
		}
		return e.fail(ctx, "register", err)
	}

	if err := e.assignDefaultRole(ctx, u.ID); err != nil {
		return e.fail(ctx, "register", err)
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEntry{
		action:       auditRegister,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})

	required, err := e.settings.Bool(ctx, SettingEmailVerificationRequired)
	if err != nil {
		return e.fail(ctx, "register", err)
	}
	if e.mailer != nil {
		if _, err := e.sendVerification(ctx, u); err != nil {
			e.log.Warn(ctx, "verification email not issued", "user_id", u.ID, "error", err)
		}
	}
	if required {
		out := redirectTo(e.config.Routes.Login + "?registered=verify")
		out.Data = map[string]any{"message": "Account created. Check your email to verify your address before logging in."}
		return out
	}

	e.notify(ctx, mail.TemplateWelcome, u, mail.Data{})
	return e.completeLogin(ctx, u, map[string]any{"method": "register"})
}

// newUser validates and stores a user. Names are mandatory when
// requireNames is set and validated whenever present.
func (e *Engine) newUser(ctx context.Context, username, email, plain, first, last string, requireNames bool) (*store.User, error) {
	username = normalizeUsername(username)
	email = normalizeEmail(email)
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePasswordFormat(plain); err != nil {
		return nil, err
	}
	if requireNames || first != "" {
		if err := validateName("firstName", "first name", first); err != nil {
			return nil, err
		}
	}
	if requireNames || last != "" {
		if err := validateName("lastName", "last name", last); err != nil {
			return nil, err
		}
	}

	policy, err := e.passwordPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(plain); err != nil {
		return nil, err
	}

	for _, p := range []store.Predicate{
		store.Eq(store.FieldUsername, username),
		store.Eq(store.FieldEmail, email),
	} {
		_, err := e.store.FindUser(ctx, store.Where(p))
		if err == nil {
			return nil, ErrAccountExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	hash, err := e.passwordHash.Hash(plain)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	u := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return u, nil
}

// assignDefaultRole gives a new account the user role. A missing role is
// logged and tolerated so an unseeded database can still register users.
func (e *Engine) assignDefaultRole(ctx context.Context, userID string) error {
	role, err := e.resolver.RoleByName(ctx, permission.RoleUser)
	if err != nil {
		if errors.Is(err, permission.ErrRoleNotFound) {
			e.log.Warn(ctx, "default role missing, user created without roles", "user_id", userID)
			return nil
		}
		return err
	}
	return e.resolver.AssignRole(ctx, userID, role.ID, "")
}

/*
====================================
SESSIONS
====================================
*/

// ValidateSession resolves a raw session token to the caller. It returns
// ErrUnauthorized for unknown or expired tokens. A locked or disabled
// account is refused and the presented session is deleted, so the lock
// takes effect on the next request.
func (e *Engine) ValidateSession(ctx context.Context, rawToken string) (*AuthContext, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}()

	res, err := e.sessions.Check(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrUnauthorized
	}
	s, u := res.Session, res.User

	status, err := e.lockout.IsAccountLocked(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if status.Locked || u.IsDisabled {
		if err := e.sessions.Invalidate(ctx, s.ID); err == nil {
			e.metricInc(MetricSessionInvalidated)
		}
		if status.Locked {
			return nil, &LockedError{Until: status.LockedUntil, now: e.now()}
		}
		return nil, ErrAccountDisabled
	}

	perms, err := e.resolver.Resolve(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	return &AuthContext{User: u, Session: s, Permissions: perms, Renewed: res.Renewed}, nil
}

// Logout deletes the caller's session. It always succeeds from the
// client's point of view: the cookie is cleared even when the session is
// already gone.
func (e *Engine) Logout(ctx context.Context, actor *AuthContext) Outcome {
	out := redirectTo(e.config.Routes.Login)
	out.ClearSession = true
	if actor == nil || actor.Session == nil {
		return out
	}

	if err := e.sessions.Invalidate(ctx, actor.Session.ID); err != nil {
		e.log.Warn(ctx, "logout: session not deleted", "user_id", actor.UserID(), "error", err)
		return out
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEntry{
		action:       auditLogout,
		userID:       actor.UserID(),
		resourceType: "session",
		resourceID:   actor.Session.ID,
		success:      true,
	})
	return out
}

// ListSessions returns the live sessions of the caller, newest first.
func (e *Engine) ListSessions(ctx context.Context, actor *AuthContext) ([]SessionInfo, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	list, err := e.sessions.List(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SessionInfo{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == actor.SessionID(),
		})
	}
	return out, nil
}

// RevokeSession deletes one of the caller's sessions. Sessions of other
// users are reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, actor *AuthContext, sessionID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return invalid("sessionId", "Session ID is required")
	}

	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if s.UserID != actor.User.ID {
		return ErrSessionNotFound
	}

	if err := e.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEntry{
		action:       auditSessionRevoked,
		category:     audit.CategorySecurity,
		userID:       actor.User.ID,
		resourceType: "session",
		resourceID:   sessionID,
		success:      true,
	})
	return nil
}

// RevokeOtherSessions deletes every session of the caller except the
// current one and returns how many were removed.
func (e *Engine) RevokeOtherSessions(ctx context.Context, actor *AuthContext) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	current := actor.SessionID()
	if current == "" {
		return 0, invalid("session", "No active session")
	}

	n, err := e.sessions.InvalidateUser(ctx, actor.User.ID, current)
	if err != nil {
		return 0, err
	}

	e.emitAudit(ctx, auditEntry{
		action:   auditSessionsRevoked,
		category: audit.CategorySecurity,
		userID:   actor.User.ID,
		success:  true,
		metadata: map[string]any{"revoked": n},
	})
	return n, nil
}

/*
====================================
PROFILE
====================================
*/

// ChangePassword replaces the caller's password. Every other session of
// the caller is revoked and require_password_change is cleared.
func (e *Engine) ChangePassword(ctx context.Context, actor *AuthContext, req ChangePasswordRequest) Outcome {
	if err := requireActor(actor); err != nil {
		return e.fail(ctx, "change_password", err)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		return e.fail(ctx, "change_password", invalid("password", "All fields are required"))
	}
	if req.NewPassword != req.ConfirmPassword {
		return e.fail(ctx, "change_password", ErrPasswordMismatch)
	}
	if err := validatePasswordFormat(req.NewPassword); err != nil {
		return e.fail(ctx, "change_password", err)
	}

	u, err := e.reverify(ctx, actor, req.CurrentPassword)
	if err != nil {
		if errors.Is(err, ErrIncorrectPassword) {
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEntry{
				action:       auditPasswordChangeFailed,
				userID:       actor.UserID(),
				resourceType: "user",
				resourceID:   actor.UserID(),
				err:          err,
			})
		}
		return e.fail(ctx, "change_password", err)
	}

	if e.passwordHash.Matches(req.NewPassword, u.PasswordHash) {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return e.fail(ctx, "change_password", ErrPasswordReuse)
	}

	policy, err := e.passwordPolicy(ctx)
	if err != nil {
		return e.fail(ctx, "change_password", err)
	}
	if err := policy.Validate(req.NewPassword); err != nil {
		return e.fail(ctx, "change_password", err)
	}

	hash, err := e.passwordHash.Hash(req.NewPassword)
	if err != nil {
		return e.fail(ctx, "change_password", err)
	}
	if err := e.store.UpdatePassword(ctx, u.ID, hash, false, e.now().UTC()); err != nil {
		return e.fail(ctx, "change_password", err)
	}

	revoked, err := e.sessions.InvalidateUser(ctx, u.ID, actor.SessionID())
	if err != nil {
		return e.fail(ctx, "change_password", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEntry{
		action:       auditPasswordChange,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"sessionsRevoked": revoked},
	})
	e.notify(ctx, mail.TemplatePasswordChanged, u, mail.Data{})

	data := map[string]any{
		"success":         true,
		"message":         "Password changed successfully. Other sessions have been logged out.",
		"sessionsRevoked": revoked,
	}
	if u.RequirePasswordChange {
		out := redirectTo(e.config.Routes.Home)
		out.Data = data
		return out
	}
	return rendered(data)
}

// DeleteAccount removes the caller's account after re-verifying the
// password. Sessions, role assignments, grants and tokens go with it.
func (e *Engine) DeleteAccount(ctx context.Context, actor *AuthContext, currentPassword string) Outcome {
	u, err := e.reverify(ctx, actor, currentPassword)
	if err != nil {
		return e.fail(ctx, "delete_account", err)
	}

	// Recorded before the delete; activity rows are not tied to the user row.
	e.emitAudit(ctx, auditEntry{
		action:       auditAccountDeleted,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"username": u.Username},
	})

	if err := e.store.DeleteUser(ctx, u.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrUserNotFound
		}
		return e.fail(ctx, "delete_account", err)
	}

	out := redirectTo(e.config.Routes.Login)
	out.ClearSession = true
	return out
}
