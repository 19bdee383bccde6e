package panelauth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/store"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrIncorrectPassword  = errors.New("incorrect password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRateLimited        = errors.New("rate limited")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrEmailUnverified    = errors.New("email not verified")
	ErrAccountExists      = errors.New("account already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrPasswordReuse      = errors.New("new password must be different from current password")
	ErrSelfAction         = errors.New("operation not allowed on own account")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrPasswordMismatch   = errors.New("passwords do not match")

	ErrRegistrationDisabled = errors.New("registration disabled")

	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrEmailUnchanged       = errors.New("new email is the same as current email")

	ErrTwoFactorNotEnabled      = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled  = errors.New("two-factor authentication already enabled")
	ErrTwoFactorSetupNotStarted = errors.New("two-factor setup not started")
	ErrTwoFactorInvalid         = errors.New("invalid two-factor code")
	ErrBackupCodeInvalid        = errors.New("invalid backup code")
	ErrPendingTwoFactorInvalid  = errors.New("no pending two-factor login")
	ErrTwoFactorUnavailable     = errors.New("two-factor backend unavailable")

	ErrEmailDelivery  = errors.New("email delivery failed")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError is a user-correctable input error. Message is safe to
// show.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// RateLimitError carries the retry hint of a denied rate-limit check.
type RateLimitError struct {
	Action     rate.Action
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Action, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockedError describes a locked account. A nil Until means the lock is
// permanent.
type LockedError struct {
	Until *time.Time
	now   time.Time
}

func (e *LockedError) Error() string { return "account locked" }

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

func (e *LockedError) message() string {
	if e.Until == nil {
		return "Account is locked. Please contact an administrator."
	}
	minutes := int(math.Ceil(e.Until.Sub(e.now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Account is temporarily locked. Try again in %d %s.", minutes, unit)
}

// FailureKind classifies a failure for the transport layer.
type FailureKind uint8

const (
	FailureValidation FailureKind = iota + 1
	FailureAuthentication
	FailureAuthorization
	FailureRateLimited
	FailureNotFound
	FailureConflict
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureValidation:
		return "validation"
	case FailureAuthentication:
		return "authentication"
	case FailureAuthorization:
		return "authorization"
	case FailureRateLimited:
		return "rate_limited"
	case FailureNotFound:
		return "not_found"
	case FailureConflict:
		return "conflict"
	case FailureInternal:
		return "internal"
	default:
		return "unknown"
	}
}

const (
	msgInvalidCredentials = "Incorrect username or password"
	msgGenericInternal    = "Something went wrong. Please try again later."
)

type classification struct {
	kind    FailureKind
	status  int
	message string
}

// classes is ordered: the first sentinel that matches wins.
var classes = []struct {
	err error
	classification
}{
	{ErrInvalidCredentials, classification{FailureAuthentication, http.StatusBadRequest, msgInvalidCredentials}},
	{ErrIncorrectPassword, classification{FailureAuthentication, http.StatusBadRequest, "Incorrect password"}},
	{ErrTwoFactorInvalid, classification{FailureAuthentication, http.StatusBadRequest, "Invalid verification code. Please try again."}},
	{ErrBackupCodeInvalid, classification{FailureAuthentication, http.StatusBadRequest, "Invalid backup code. Please try again."}},
	{ErrPendingTwoFactorInvalid, classification{FailureAuthentication, http.StatusUnauthorized, "No pending 2FA verification. Please login again."}},
	{ErrTokenInvalid, classification{FailureAuthentication, http.StatusBadRequest, "This link is invalid or has expired"}},
	{ErrUnauthorized, classification{FailureAuthentication, http.StatusUnauthorized, "Unauthorized"}},

	{ErrAccountDisabled, classification{FailureAuthorization, http.StatusForbidden, "This account has been disabled. Please contact an administrator."}},
	{ErrEmailUnverified, classification{FailureAuthorization, http.StatusForbidden, "Please verify your email address before logging in."}},
	{ErrPermissionDenied, classification{FailureAuthorization, http.StatusForbidden, "You do not have permission to perform this action."}},
	{ErrRegistrationDisabled, classification{FailureAuthorization, http.StatusForbidden, "Registration is currently disabled."}},
	{ErrSelfAction, classification{FailureAuthorization, http.StatusForbidden, "You cannot perform this action on your own account."}},
	{permission.ErrSystemRole, classification{FailureAuthorization, http.StatusForbidden, "System roles cannot be modified."}},
	{runtimecfg.ErrNotEditable, classification{FailureAuthorization, http.StatusForbidden, "This setting cannot be changed."}},

	{ErrUserNotFound, classification{FailureNotFound, http.StatusNotFound, "User not found"}},
	{permission.ErrUserNotFound, classification{FailureNotFound, http.StatusNotFound, "User not found"}},
	{ErrSessionNotFound, classification{FailureNotFound, http.StatusNotFound, "Session not found"}},
	{permission.ErrRoleNotFound, classification{FailureNotFound, http.StatusNotFound, "Role not found"}},
	{permission.ErrNodeNotFound, classification{FailureNotFound, http.StatusNotFound, "Permission node not found"}},
	{runtimecfg.ErrUnknownKey, classification{FailureNotFound, http.StatusNotFound, "Unknown setting"}},
	{store.ErrNotFound, classification{FailureNotFound, http.StatusNotFound, "Not found"}},

	{ErrAccountExists, classification{FailureConflict, http.StatusConflict, "Username or email is already in use"}},
	{ErrEmailAlreadyVerified, classification{FailureConflict, http.StatusConflict, "Email already verified"}},
	{ErrTwoFactorAlreadyEnabled, classification{FailureConflict, http.StatusConflict, "2FA is already enabled"}},
	{ErrTwoFactorNotEnabled, classification{FailureConflict, http.StatusConflict, "2FA is not enabled"}},
	{ErrTwoFactorSetupNotStarted, classification{FailureConflict, http.StatusConflict, "2FA setup not started"}},
	{permission.ErrRoleExists, classification{FailureConflict, http.StatusConflict, "A role with this name already exists"}},
	{permission.ErrNodeExists, classification{FailureConflict, http.StatusConflict, "A permission node with this path already exists"}},
	{permission.ErrAlreadyAssigned, classification{FailureConflict, http.StatusConflict, "User already has this role"}},
	{permission.ErrRoleInUse, classification{FailureConflict, http.StatusConflict, "Role is assigned to users and cannot be deleted"}},
	{store.ErrConflict, classification{FailureConflict, http.StatusConflict, "Conflicting record already exists"}},

	{ErrEmailDelivery, classification{FailureInternal, http.StatusServiceUnavailable, "Failed to send email. Please try again later."}},

	{ErrPasswordMismatch, classification{FailureValidation, http.StatusBadRequest, "New passwords do not match"}},
	{ErrPasswordReuse, classification{FailureValidation, http.StatusBadRequest, "New password must be different from current password"}},
	{ErrEmailUnchanged, classification{FailureValidation, http.StatusBadRequest, "New email is the same as current email"}},
	{permission.ErrUnknownPermission, classification{FailureValidation, http.StatusBadRequest, "Unknown permission"}},
	{permission.ErrInvalidRole, classification{FailureValidation, http.StatusBadRequest, "Invalid role name"}},
	{permission.ErrInvalidNode, classification{FailureValidation, http.StatusBadRequest, "Invalid permission node path"}},
	{runtimecfg.ErrInvalidValue, classification{FailureValidation, http.StatusBadRequest, "Invalid setting value"}},
	{runtimecfg.ErrTypeMismatch, classification{FailureValidation, http.StatusBadRequest, "Invalid setting value"}},
}

// Classify maps err onto a Failure. Errors it does not recognize are
// internal: they get a fresh correlation id and the generic message. The
// caller is responsible for logging the underlying error under that id.
func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rateLimitedFailure(rl.RetryAfter)
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, rate.ErrRateLimited) {
		return rateLimitedFailure(0)
	}

	var locked *LockedError
	if errors.As(err, &locked) {
		return Failure{Kind: FailureAuthorization, Status: http.StatusForbidden, Message: locked.message()}
	}
	if errors.Is(err, ErrAccountLocked) {
		return Failure{Kind: FailureAuthorization, Status: http.StatusForbidden, Message: "Account is locked."}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return Failure{Kind: FailureValidation, Status: http.StatusBadRequest, Message: ve.Message}
	}
	var pe *password.PolicyError
	if errors.As(err, &pe) {
		return Failure{Kind: FailureValidation, Status: http.StatusBadRequest, Message: pe.Reason}
	}

	for _, c := range classes {
		if errors.Is(err, c.err) {
			return Failure{Kind: c.kind, Status: c.status, Message: c.message}
		}
	}

	id := uuid.NewString()
	return Failure{
		Kind:          FailureInternal,
		Status:        http.StatusInternalServerError,
		Message:       fmt.Sprintf("%s (ref: %s)", msgGenericInternal, id),
		CorrelationID: id,
	}
}

func rateLimitedFailure(retry time.Duration) Failure {
	msg := "Too many attempts. Please try again later."
	if retry > 0 {
		secs := int(math.Ceil(retry.Seconds()))
		if secs >= 120 {
			msg = fmt.Sprintf("Too many attempts. Please try again in %d minutes.", int(math.Ceil(float64(secs)/60)))
		} else {
			msg = fmt.Sprintf("Too many attempts. Please try again in %d seconds.", secs)
		}
	}
	return Failure{
		Kind:       FailureRateLimited,
		Status:     http.StatusTooManyRequests,
		Message:    msg,
		RetryAfter: retry,
	}
}
