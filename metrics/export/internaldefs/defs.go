package internaldefs

import (
	"github.com/MrEthical07/panelauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: panelauth.MetricLoginSuccess, Name: "panelauth_login_success_total", Help: "Successful logins that issued a session."},
	{ID: panelauth.MetricLoginFailure, Name: "panelauth_login_failure_total", Help: "Login attempts rejected for bad credentials."},
	{ID: panelauth.MetricLoginRateLimited, Name: "panelauth_login_rate_limited_total", Help: "Login attempts refused by the rate limiter."},
	{ID: panelauth.MetricLoginLocked, Name: "panelauth_login_locked_total", Help: "Login attempts against a locked account."},
	{ID: panelauth.MetricAccountLocked, Name: "panelauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: panelauth.MetricTwoFactorRequired, Name: "panelauth_two_factor_required_total", Help: "Logins that stopped at the second factor."},
	{ID: panelauth.MetricTwoFactorSuccess, Name: "panelauth_two_factor_success_total", Help: "Successful TOTP verifications."},
	{ID: panelauth.MetricTwoFactorFailure, Name: "panelauth_two_factor_failure_total", Help: "Failed TOTP verifications."},
	{ID: panelauth.MetricBackupCodeUsed, Name: "panelauth_backup_code_used_total", Help: "Backup codes consumed at login."},
	{ID: panelauth.MetricBackupCodeFailed, Name: "panelauth_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: panelauth.MetricBackupCodesRegenerated, Name: "panelauth_backup_codes_regenerated_total", Help: "Backup code regenerations."},
	{ID: panelauth.MetricTwoFactorEnabled, Name: "panelauth_two_factor_enabled_total", Help: "Two-factor enrollments confirmed."},
	{ID: panelauth.MetricTwoFactorDisabled, Name: "panelauth_two_factor_disabled_total", Help: "Two-factor enrollments removed."},
	{ID: panelauth.MetricRateLimitHit, Name: "panelauth_rate_limit_hit_total", Help: "Rate-limit checks that denied a request."},
	{ID: panelauth.MetricSessionCreated, Name: "panelauth_session_created_total", Help: "Sessions issued."},
	{ID: panelauth.MetricSessionInvalidated, Name: "panelauth_session_invalidated_total", Help: "Sessions ended other than by logout."},
	{ID: panelauth.MetricLogout, Name: "panelauth_logout_total", Help: "Logouts."},
	{ID: panelauth.MetricRegistrationSuccess, Name: "panelauth_registration_success_total", Help: "Self-service registrations."},
	{ID: panelauth.MetricRegistrationDuplicate, Name: "panelauth_registration_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: panelauth.MetricPasswordChangeSuccess, Name: "panelauth_password_change_success_total", Help: "Password changes."},
	{ID: panelauth.MetricPasswordChangeInvalidOld, Name: "panelauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: panelauth.MetricPasswordChangeReuseRejected, Name: "panelauth_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: panelauth.MetricPasswordResetRequest, Name: "panelauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: panelauth.MetricPasswordResetSuccess, Name: "panelauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: panelauth.MetricPasswordResetFailure, Name: "panelauth_password_reset_failure_total", Help: "Password reset links rejected."},
	{ID: panelauth.MetricEmailVerificationRequest, Name: "panelauth_email_verification_request_total", Help: "Verification links issued."},
	{ID: panelauth.MetricEmailVerificationSuccess, Name: "panelauth_email_verification_success_total", Help: "Addresses verified."},
	{ID: panelauth.MetricEmailVerificationFailure, Name: "panelauth_email_verification_failure_total", Help: "Verification links rejected."},
	{ID: panelauth.MetricEmailSendFailure, Name: "panelauth_email_send_failure_total", Help: "Emails that could not be rendered or sent."},
	{ID: panelauth.MetricAuditFailure, Name: "panelauth_audit_failure_total", Help: "Audit events the sink refused."},
	{ID: panelauth.MetricInternalError, Name: "panelauth_internal_error_total", Help: "Failures classified as internal."},
}

var HistogramDefs = []HistogramDef{
	{ID: panelauth.MetricValidateLatency, Name: "panelauth_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the le labels matching panelauth.HistogramBounds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside an
// instrument name.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling
// missing buckets and ignoring extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
