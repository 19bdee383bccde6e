package panelauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/store"
)

/*
====================================
PROFILE
====================================
*/

// UpdateProfile changes the caller's username and names. All three are
// required; the username must not belong to another account.
func (e *Engine) UpdateProfile(ctx context.Context, actor *AuthContext, req UpdateProfileRequest) (*store.User, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	username := normalizeUsername(req.Username)
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateName("firstName", "first name", first); err != nil {
		return nil, err
	}
	if err := validateName("lastName", "last name", last); err != nil {
		return nil, err
	}

	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	changed := changedFields(u, username, u.Email, first, last)

	err = e.writeProfile(ctx, u, store.ProfileUpdate{
		Username:              username,
		Email:                 u.Email,
		FirstName:             first,
		LastName:              last,
		RequirePasswordChange: u.RequirePasswordChange,
		EmailVerified:         u.EmailVerified,
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserUpdate,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"fields": changed},
	})
	return u, nil
}

// ChangeEmail moves the caller to a new address after re-verifying the
// password. When verification is required the new address starts
// unverified and a verification link is mailed to it.
func (e *Engine) ChangeEmail(ctx context.Context, actor *AuthContext, req ChangeEmailRequest) Outcome {
	if err := requireActor(actor); err != nil {
		return e.fail(ctx, "change_email", err)
	}
	email := normalizeEmail(req.NewEmail)
	if email == "" || req.CurrentPassword == "" {
		return e.fail(ctx, "change_email", invalid("email", "Email and password are required"))
	}
	if err := validateEmail(email); err != nil {
		return e.fail(ctx, "change_email", err)
	}

	u, err := e.reverify(ctx, actor, req.CurrentPassword)
	if err != nil {
		return e.fail(ctx, "change_email", err)
	}
	if email == u.Email {
		return e.fail(ctx, "change_email", ErrEmailUnchanged)
	}

	required, err := e.settings.Bool(ctx, SettingEmailVerificationRequired)
	if err != nil {
		return e.fail(ctx, "change_email", err)
	}

	oldEmail := u.Email
	err = e.writeProfile(ctx, u, store.ProfileUpdate{
		Username:              u.Username,
		Email:                 email,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		RequirePasswordChange: u.RequirePasswordChange,
		EmailVerified:         u.EmailVerified && !required,
	})
	if err != nil {
		return e.fail(ctx, "change_email", err)
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditEmailChange,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"oldEmail": oldEmail, "newEmail": email},
	})

	data := map[string]any{
		"success": true,
		"message": "Email address updated successfully",
	}
	if required {
		sent, err := e.sendVerification(ctx, u)
		if err != nil {
			return e.fail(ctx, "change_email", err)
		}
		data["verificationSent"] = sent
		if sent {
			data["message"] = "Email address updated. Check your inbox to verify the new address."
		}
	}
	return rendered(data)
}

// writeProfile stores p for u and, on success, copies it onto u. A taken
// username or email becomes ErrAccountExists.
func (e *Engine) writeProfile(ctx context.Context, u *store.User, p store.ProfileUpdate) error {
	now := e.now().UTC()
	if err := e.store.UpdateUserProfile(ctx, u.ID, p, now); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return ErrAccountExists
		case errors.Is(err, store.ErrNotFound):
			return ErrUserNotFound
		}
		return err
	}

	u.Username = p.Username
	u.Email = p.Email
	u.FirstName = p.FirstName
	u.LastName = p.LastName
	u.RequirePasswordChange = p.RequirePasswordChange
	switch {
	case !p.EmailVerified:
		u.EmailVerified = false
		u.EmailVerifiedAt = nil
	case !u.EmailVerified:
		u.EmailVerified = true
		u.EmailVerifiedAt = &now
	}
	u.UpdatedAt = now
	return nil
}

func changedFields(u *store.User, username, email, first, last string) []string {
	var out []string
	if username != u.Username {
		out = append(out, "username")
	}
	if email != u.Email {
		out = append(out, "email")
	}
	if first != u.FirstName {
		out = append(out, "firstName")
	}
	if last != u.LastName {
		out = append(out, "lastName")
	}
	return out
}
