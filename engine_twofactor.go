package panelauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/internal/stores"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/twofactor"
)

/*
====================================
LOGIN STEP
====================================
*/

// VerifyTwoFactorLogin completes a pending login with an authenticator
// code. The pending marker is consumed on success; wrong codes are counted
// against it and against the two-factor rate limit of the user.
func (e *Engine) VerifyTwoFactorLogin(ctx context.Context, marker, code string) Outcome {
	u, jti, err := e.pendingUser(ctx, marker)
	if err != nil {
		return e.pendingFailure(ctx, err)
	}

	code = strings.TrimSpace(code)
	if err := validateTOTPFormat(code); err != nil {
		return e.fail(ctx, "two_factor_login", err)
	}

	if out, ok := e.pendingPreconditions(ctx, u, jti); !ok {
		return out
	}

	window, err := e.settings.Int(ctx, twofactor.SettingLoginWindow)
	if err != nil {
		return e.fail(ctx, "two_factor_login", err)
	}

	if !e.twoFactor.VerifyCode(code, u.TOTPSecret, uint(window)) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEntry{
			action:       auditTwoFactorVerifyFailed,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrTwoFactorInvalid,
		})
		return e.pendingCodeFailure(ctx, jti, ErrTwoFactorInvalid)
	}

	if err := e.consumePending(ctx, jti); err != nil {
		return e.pendingFailure(ctx, err)
	}
	e.resetTwoFactorLimit(ctx, u.ID)

	e.metricInc(MetricTwoFactorSuccess)
	return e.completeLogin(ctx, u, map[string]any{"method": "totp"})
}

// VerifyBackupCodeLogin completes a pending login with a backup code. The
// code is removed from the account in the same step; when few codes
// remain the redirect carries a warning.
func (e *Engine) VerifyBackupCodeLogin(ctx context.Context, marker, code string) Outcome {
	u, jti, err := e.pendingUser(ctx, marker)
	if err != nil {
		return e.pendingFailure(ctx, err)
	}

	if strings.TrimSpace(code) == "" {
		return e.fail(ctx, "backup_code_login", invalid("backupCode", "Backup code is required"))
	}

	if out, ok := e.pendingPreconditions(ctx, u, jti); !ok {
		return out
	}

	idx := e.twoFactor.VerifyBackupCode(code, u.BackupCodes)
	remaining := -1
	if idx >= 0 {
		remaining, err = e.store.ConsumeBackupCode(ctx, u.ID, u.BackupCodes[idx], e.now().UTC())
		if errors.Is(err, store.ErrNotFound) {
			// Used by a concurrent request between the read and the consume.
			idx = -1
		} else if err != nil {
			return e.fail(ctx, "backup_code_login", err)
		}
	}

	if idx < 0 {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEntry{
			action:       auditBackupCodeFailed,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrBackupCodeInvalid,
		})
		return e.pendingCodeFailure(ctx, jti, ErrBackupCodeInvalid)
	}

	if err := e.consumePending(ctx, jti); err != nil {
		return e.pendingFailure(ctx, err)
	}
	e.resetTwoFactorLimit(ctx, u.ID)

	e.metricInc(MetricBackupCodeUsed)
	out := e.completeLogin(ctx, u, map[string]any{
		"method":               "backup_code",
		"backupCodesRemaining": remaining,
	})
	if out.Kind == OutcomeRedirect && remaining <= e.config.TwoFactor.LowBackupCodes {
		out.Target += "?warning=low_backup_codes"
		out.Data = map[string]any{"backupCodesRemaining": remaining}
	}
	return out
}

// pendingPreconditions applies the per-attempt checks shared by both
// second-factor forms: rate limit, two-factor still enabled, and the
// account not locked or disabled since the password step.
func (e *Engine) pendingPreconditions(ctx context.Context, u *store.User, jti string) (Outcome, bool) {
	if err := e.enforce(ctx, rate.ActionTwoFactor, u.ID, u.ID); err != nil {
		return e.fail(ctx, "two_factor_login", err), false
	}

	if !u.TwoFactorEnabled || u.TOTPSecret == "" {
		e.dropPending(ctx, jti)
		out := e.fail(ctx, "two_factor_login", ErrTwoFactorNotEnabled)
		out.ClearPendingTwoFactor = true
		return out, false
	}

	status, err := e.lockout.IsAccountLocked(ctx, u.ID)
	if err != nil {
		return e.fail(ctx, "two_factor_login", err), false
	}
	if status.Locked || u.IsDisabled {
		e.dropPending(ctx, jti)
		var out Outcome
		if status.Locked {
			out = e.fail(ctx, "two_factor_login", &LockedError{Until: status.LockedUntil, now: e.now()})
		} else {
			out = e.fail(ctx, "two_factor_login", ErrAccountDisabled)
		}
		out.ClearPendingTwoFactor = true
		return out, false
	}
	return Outcome{}, true
}

// pendingCodeFailure counts a wrong second factor against the marker and
// discards the marker once its attempts are used up.
func (e *Engine) pendingCodeFailure(ctx context.Context, jti string, cause error) Outcome {
	exceeded, err := e.pending.RecordFailure(ctx, jti, e.config.TwoFactor.MaxPendingAttempts)
	if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) && !errors.Is(err, stores.ErrChallengeExpired) {
		return e.fail(ctx, "two_factor_login", fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err))
	}
	out := e.fail(ctx, "two_factor_login", cause)
	if exceeded || err != nil {
		out.ClearPendingTwoFactor = true
	}
	return out
}

func (e *Engine) consumePending(ctx context.Context, jti string) error {
	ok, err := e.pending.Consume(ctx, jti)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorUnavailable, err)
	}
	if !ok {
		// Another request completed this login first.
		return ErrPendingTwoFactorInvalid
	}
	return nil
}

func (e *Engine) pendingFailure(ctx context.Context, err error) Outcome {
	out := e.fail(ctx, "two_factor_login", err)
	if errors.Is(err, ErrPendingTwoFactorInvalid) {
		out.ClearPendingTwoFactor = true
		out.Target = e.config.Routes.Login
	}
	return out
}

/*
====================================
ENROLLMENT
====================================
*/

// BeginTwoFactorSetup re-verifies the password and stores a new,
// not yet enabled secret for the caller. Starting again replaces an
// unconfirmed secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, actor *AuthContext, currentPassword string) (*TwoFactorSetup, error) {
	u, err := e.reverify(ctx, actor, currentPassword)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.twoFactor.GenerateSecret(u.Username)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetTwoFactor(ctx, u.ID, store.TwoFactorState{Secret: secret}, e.now().UTC()); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditTwoFactorSetup,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})

	return e.provisioning(secret, u.Username)
}

// TwoFactorProvisioning re-renders the QR code of a pending setup.
func (e *Engine) TwoFactorProvisioning(ctx context.Context, actor *AuthContext) (*TwoFactorSetup, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if u.TOTPSecret == "" {
		return nil, ErrTwoFactorSetupNotStarted
	}
	return e.provisioning(u.TOTPSecret, u.Username)
}

func (e *Engine) provisioning(secret, label string) (*TwoFactorSetup, error) {
	png, err := e.twoFactor.QRCode(secret, label, e.config.TwoFactor.QRSize)
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Secret:     secret,
		URI:        e.twoFactor.ChallengeURI(secret, label),
		QRCodePNG:  png,
		QRCodeData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// ConfirmTwoFactor enables two-factor authentication once the caller
// proves possession of the pending secret, and returns the plaintext
// backup codes. They are shown once and stored only as hashes.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, actor *AuthContext, code string) ([]string, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("code", "Verification code is required")
	}
	if err := validateTOTPFormat(code); err != nil {
		return nil, err
	}

	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if u.TOTPSecret == "" {
		return nil, ErrTwoFactorSetupNotStarted
	}

	window, err := e.settings.Int(ctx, twofactor.SettingSetupWindow)
	if err != nil {
		return nil, err
	}
	if !e.twoFactor.VerifyCode(code, u.TOTPSecret, uint(window)) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEntry{
			action:       auditTwoFactorEnabled,
			category:     audit.CategoryUser,
			userID:       u.ID,
			resourceType: "user",
			resourceID:   u.ID,
			err:          ErrTwoFactorInvalid,
		})
		return nil, ErrTwoFactorInvalid
	}

	codes, hashes, err := e.newBackupCodes(ctx)
	if err != nil {
		return nil, err
	}
	st := store.TwoFactorState{Secret: u.TOTPSecret, Enabled: true, BackupCodes: hashes}
	if err := e.store.SetTwoFactor(ctx, u.ID, st, e.now().UTC()); err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEntry{
		action:       auditTwoFactorEnabled,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"backupCodes": len(codes)},
	})
	e.notify(ctx, mail.TemplateTwoFactorEnabled, u, mail.Data{})

	return codes, nil
}

// DisableTwoFactor re-verifies the password and clears the secret and
// every backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, actor *AuthContext, currentPassword string) error {
	u, err := e.reverify(ctx, actor, currentPassword)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.store.SetTwoFactor(ctx, u.ID, store.TwoFactorState{}, e.now().UTC()); err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEntry{
		action:       auditTwoFactorDisabled,
		category:     audit.CategorySecurity,
		severity:     audit.SeverityWarning,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})
	e.notify(ctx, mail.TemplateTwoFactorDisabled, u, mail.Data{})
	return nil
}

// RegenerateBackupCodes replaces every backup code after re-verifying the
// password.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, actor *AuthContext, currentPassword string) ([]string, error) {
	u, err := e.reverify(ctx, actor, currentPassword)
	if err != nil {
		return nil, err
	}
	if !u.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, hashes, err := e.newBackupCodes(ctx)
	if err != nil {
		return nil, err
	}
	st := store.TwoFactorState{Secret: u.TOTPSecret, Enabled: true, BackupCodes: hashes}
	if err := e.store.SetTwoFactor(ctx, u.ID, st, e.now().UTC()); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEntry{
		action:       auditBackupCodesRegenerated,
		category:     audit.CategoryUser,
		userID:       u.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"backupCodes": len(codes)},
	})
	return codes, nil
}

// BackupCodesRemaining reports how many unused backup codes the caller has.
func (e *Engine) BackupCodesRemaining(ctx context.Context, actor *AuthContext) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return 0, err
	}
	return len(u.BackupCodes), nil
}

func (e *Engine) newBackupCodes(ctx context.Context) ([]string, []string, error) {
	count, err := e.settings.Int(ctx, twofactor.SettingBackupCodesCount)
	if err != nil {
		return nil, nil, err
	}
	codes, err := twofactor.GenerateBackupCodes(count)
	if err != nil {
		return nil, nil, err
	}
	hashes, err := e.twoFactor.HashBackupCodes(codes)
	if err != nil {
		return nil, nil, err
	}
	return codes, hashes, nil
}

// reverify loads the caller fresh and checks currentPassword.
func (e *Engine) reverify(ctx context.Context, actor *AuthContext, currentPassword string) (*store.User, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if currentPassword == "" {
		return nil, invalid("password", "Password is required")
	}
	u, err := e.userByID(ctx, actor.User.ID)
	if err != nil {
		return nil, err
	}
	if !e.passwordHash.Matches(currentPassword, u.PasswordHash) {
		return nil, ErrIncorrectPassword
	}
	return u, nil
}

// resetTwoFactorLimit clears the code attempt log after a completed login.
// The login already succeeded, so a failure is only logged.
func (e *Engine) resetTwoFactorLimit(ctx context.Context, userID string) {
	if err := e.limiter.Reset(ctx, userID, rate.ActionTwoFactor); err != nil {
		e.log.Warn(ctx, "two-factor limit reset failed", "user_id", userID, "error", err)
	}
}

// dropPending discards a pending marker that can no longer complete. The
// caller is already failing the request; the record expires on its own.
func (e *Engine) dropPending(ctx context.Context, jti string) {
	if _, err := e.pending.Consume(ctx, jti); err != nil {
		e.log.Warn(ctx, "pending two-factor discard failed", "jti", jti, "error", err)
	}
}
