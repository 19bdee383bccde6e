package store

import "time"

// User is the identity and credential record. BackupCodes holds Argon2id
// hashes in issue order. A locked user with a nil LockedUntil is locked
// permanently.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string

	TOTPSecret       string
	TwoFactorEnabled bool
	BackupCodes      []string

	IsLocked            bool
	LockedAt            *time.Time
	LockedUntil         *time.Time
	FailedLoginAttempts int
	LastFailedLogin     *time.Time

	RequirePasswordChange bool
	EmailVerified         bool
	EmailVerifiedAt       *time.Time

	IsDisabled    bool
	DisabledAt    *time.Time
	DisabledBy    string
	DisableReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns "First Last" when set, otherwise the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// ProfileUpdate is the editable identity column set written in one
// update. Clearing EmailVerified also clears the verification time.
type ProfileUpdate struct {
	Username              string
	Email                 string
	FirstName             string
	LastName              string
	RequirePasswordChange bool
	EmailVerified         bool
}

// TwoFactorState is the full two-factor column set written in one update.
type TwoFactorState struct {
	Secret      string
	Enabled     bool
	BackupCodes []string
}

// LockoutPolicy parameterizes the atomic failed-login update.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
	ResetAfter   time.Duration
}

// LockoutState is the lockout column set after a store update.
type LockoutState struct {
	FailedAttempts int
	IsLocked       bool
	LockedUntil    *time.Time
}

// Session is stored under the hash of its raw token.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Role is a named permission bundle.
type Role struct {
	ID           string
	Name         string
	Description  string
	Permissions  []string
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleAssignment is a role as held by one user.
type RoleAssignment struct {
	Role       Role
	AssignedAt time.Time
	AssignedBy string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID     string
	RoleID     string
	AssignedAt time.Time
	AssignedBy string
}

// PermissionNode is a named resource path that permissions can be scoped to.
type PermissionNode struct {
	ID          string
	Path        string
	Description string
	CreatedAt   time.Time
}

// NodeGrant grants Permission on one node. A nil ExpiresAt never expires.
type NodeGrant struct {
	ID         string
	UserID     string
	NodeID     string
	NodePath   string
	Permission string
	GrantedAt  time.Time
	GrantedBy  string
	ExpiresAt  *time.Time
}

// TokenPurpose separates single-use token families.
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// Token is a single-use credential record. Only the hash is persisted.
type Token struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	Hash      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ActivityEntry is one row of the audit trail.
type ActivityEntry struct {
	ID           string
	UserID       string
	IPAddress    string
	UserAgent    string
	Action       string
	Category     string
	Severity     string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// ConfigValue is a persisted runtime configuration override. Value holds
// the JSON encoding of the typed value.
type ConfigValue struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
	UpdatedBy string
}
