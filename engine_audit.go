package panelauth

import (
	"context"

	"github.com/MrEthical07/panelauth/internal/audit"
)

const (
	auditLogin                  = "user.login"
	auditLoginFailed            = "user.login.failed"
	auditLogout                 = "user.logout"
	auditRegister               = "user.register"
	auditPasswordResetRequest   = "user.password_reset.request"
	auditPasswordResetComplete  = "user.password_reset.complete"
	auditPasswordResetInvalid   = "user.password_reset.invalid"
	auditPasswordChange         = "user.password.change"
	auditPasswordChangeFailed   = "user.password.change.failed"
	auditEmailVerificationSent  = "user.email_verification.request"
	auditEmailVerified          = "user.email.verified"
	auditEmailChange            = "user.email.change"
	auditAccountDeleted         = "user.account.delete"
	auditSessionRevoked         = "user.session.revoke"
	auditSessionsRevoked        = "user.session.revoke_others"
	auditTwoFactorSetup         = "user.2fa.setup"
	auditTwoFactorEnabled       = "user.2fa.enable"
	auditTwoFactorDisabled      = "user.2fa.disable"
	auditTwoFactorChallenge     = "user.2fa.challenge"
	auditTwoFactorVerifyFailed  = "user.2fa.verify.failed"
	auditBackupCodeFailed       = "user.2fa.backup.failed"
	auditBackupCodesRegenerated = "user.2fa.backup.regenerate"

	auditUserCreate = "user.create"
	auditUserDelete = "user.delete"
	auditUserLock   = "user.lock"
	auditUserUnlock = "user.unlock"
	auditUserUpdate = "user.update"

	auditRoleCreate = "role.create"
	auditRoleUpdate = "role.update"
	auditRoleDelete = "role.delete"
	auditRoleAssign = "role.assign"
	auditRoleRevoke = "role.revoke"

	auditNodeCreate       = "permission.node.create"
	auditPermissionGrant  = "permission.grant"
	auditPermissionRevoke = "permission.revoke"

	auditConfigUpdate = "system.config.update"
	auditConfigReset  = "system.config.reset"

	auditRateLimitExceeded = "security.rate_limit.exceeded"
	auditAccountLocked     = "security.account.locked"
	auditLoginWhileLocked  = "security.account.locked.login"
	auditAuthzDenied       = "security.authorization.denied"
)

// auditEntry is the engine-side shape of an event before the request
// context is attached.
type auditEntry struct {
	action       string
	category     string
	severity     string
	userID       string
	resourceType string
	resourceID   string
	success      bool
	err          error
	errMessage   string
	metadata     map[string]any
}

// emitAudit forwards an event and never fails the caller: sink errors are
// logged and counted. It returns the event id, or "" when delivery failed.
func (e *Engine) emitAudit(ctx context.Context, entry auditEntry) string {
	if e == nil || e.audit == nil {
		return ""
	}

	event := audit.Event{
		Timestamp:    e.now().UTC(),
		UserID:       entry.userID,
		IPAddress:    clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		Action:       entry.action,
		Category:     entry.category,
		Severity:     entry.severity,
		ResourceType: entry.resourceType,
		ResourceID:   entry.resourceID,
		Metadata:     entry.metadata,
		Success:      entry.success,
		ErrorMessage: entry.errMessage,
	}
	if event.ErrorMessage == "" && entry.err != nil {
		event.ErrorMessage = entry.err.Error()
	}
	if event.Category == "" {
		event.Category = audit.CategoryAuth
	}

	id, err := e.audit.Log(ctx, event)
	if err != nil {
		e.metricInc(MetricAuditFailure)
		e.log.Warn(ctx, "audit event not recorded", "action", entry.action, "error", err)
		return ""
	}
	return id
}

// emitRateLimit audits a denied rate-limit check at warning severity.
func (e *Engine) emitRateLimit(ctx context.Context, entry auditEntry, rl *RateLimitError) {
	e.metricInc(MetricRateLimitHit)
	md := map[string]any{
		"action":            string(rl.Action),
		"retryAfterSeconds": int(rl.RetryAfter.Seconds()),
	}
	for k, v := range entry.metadata {
		md[k] = v
	}
	entry.action = auditRateLimitExceeded
	entry.category = audit.CategorySecurity
	entry.severity = audit.SeverityWarning
	entry.success = false
	entry.metadata = md
	e.emitAudit(ctx, entry)
}

// auditSink adapts the synchronous sink and the async dispatcher to one
// call shape.
type auditSink interface {
	Log(ctx context.Context, event audit.Event) (string, error)
}
