package panelauth

import (
	"time"

	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
)

// AuthContext is the authenticated caller of one request. It is built by
// ValidateSession and passed explicitly to every operation that needs an
// actor; nothing reads it from ambient state.
type AuthContext struct {
	User        *store.User
	Session     *store.Session
	Permissions permission.Set
	// Renewed is set when this validation extended the session expiry.
	Renewed bool
}

// UserID returns the caller's id, or "" for a nil context.
func (a *AuthContext) UserID() string {
	if a == nil || a.User == nil {
		return ""
	}
	return a.User.ID
}

// SessionID returns the current session id, or "".
func (a *AuthContext) SessionID() string {
	if a == nil || a.Session == nil {
		return ""
	}
	return a.Session.ID
}

// Has reports whether the permissions resolved at validation time include
// perm. Admin operations re-resolve against the store instead.
func (a *AuthContext) Has(perm string) bool {
	if a == nil {
		return false
	}
	return a.Permissions.Has(perm)
}

// LoginRequest is the first login step.
type LoginRequest struct {
	Username string
	Password string
}

// RegisterRequest creates a self-service account.
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ChangePasswordRequest changes the caller's password.
type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// UpdateProfileRequest edits the caller's own identity fields.
type UpdateProfileRequest struct {
	Username  string
	FirstName string
	LastName  string
}

// ChangeEmailRequest moves the caller to a new address.
type ChangeEmailRequest struct {
	NewEmail        string
	CurrentPassword string
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// TwoFactorSetup is shown while enrollment is pending confirmation.
type TwoFactorSetup struct {
	Secret     string
	URI        string
	QRCodePNG  []byte
	QRCodeData string
}

// SessionInfo is one entry of a session listing. Current marks the
// session of the caller.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Current   bool
}

// UserRoleInfo is one role held by a user.
type UserRoleInfo struct {
	Name       string
	AssignedAt time.Time
	AssignedBy string
}

// LockedAccount is one entry of the locked-account listing.
type LockedAccount struct {
	UserID         string
	Username       string
	Email          string
	LockedAt       *time.Time
	LockedUntil    *time.Time
	Permanent      bool
	FailedAttempts int
}

// ActivityFilter narrows an activity-log query. Zero fields are ignored.
type ActivityFilter struct {
	UserID   string
	Action   string
	Category string
	Severity string
	Success  *bool
	Since    time.Time
	Limit    int
	Offset   int
}

// CreateUserRequest creates an account on behalf of an administrator.
type CreateUserRequest struct {
	Username              string
	Email                 string
	Password              string
	FirstName             string
	LastName              string
	Roles                 []string
	RequirePasswordChange bool
	EmailVerified         bool
}

// UpdateUserRequest is an administrator's edit of another account.
type UpdateUserRequest struct {
	Username              string
	Email                 string
	FirstName             string
	LastName              string
	RequirePasswordChange bool
}
