package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a keyed lookup or conditional mutation
	// matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
	// ErrUnsupportedQuery is returned when a Query names a field or operator
	// the adapter cannot translate for the target entity.
	ErrUnsupportedQuery = errors.New("store: unsupported query")
)

// Users persists user records, including the lockout and two-factor columns.
// Every mutation that guards a security invariant is a single atomic
// operation in the adapter.
type Users interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	// FindUser returns the first match of q or ErrNotFound.
	FindUser(ctx context.Context, q Query) (*User, error)
	ListUsers(ctx context.Context, q Query) ([]User, error)
	DeleteUser(ctx context.Context, id string) error

	UpdatePassword(ctx context.Context, id, hash string, requireChange bool, at time.Time) error
	// UpdateUserProfile rewrites the identity columns. A username or email
	// held by another user yields ErrConflict.
	UpdateUserProfile(ctx context.Context, id string, p ProfileUpdate, at time.Time) error
	SetTwoFactor(ctx context.Context, id string, st TwoFactorState, at time.Time) error
	// ConsumeBackupCode removes exactly one stored hash and returns how many
	// remain. ErrNotFound means the hash was not present (already used).
	ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (int, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	SetDisabled(ctx context.Context, id string, disabled bool, by, reason string, at time.Time) error

	// RecordFailedLogin resets the counter when the previous failure is
	// older than p.ResetAfter, increments it, and locks the account until
	// now+p.LockDuration when the new count reaches p.MaxAttempts. The
	// read and the write happen atomically.
	RecordFailedLogin(ctx context.Context, id string, now time.Time, p LockoutPolicy) (LockoutState, error)
	ClearFailedLogins(ctx context.Context, id string, at time.Time) error
	// LockUser locks the account; a nil until locks it permanently.
	LockUser(ctx context.Context, id string, at time.Time, until *time.Time) error
	UnlockUser(ctx context.Context, id string, at time.Time) error
	// UnlockExpired clears a timed lock whose deadline is not after now.
	// It never clears a permanent lock. It reports whether a row changed.
	UnlockExpired(ctx context.Context, id string, now time.Time) (bool, error)
}

// Sessions persists authenticated sessions.
type Sessions interface {
	CreateSession(ctx context.Context, s Session) error
	SessionByID(ctx context.Context, id string) (*Session, error)
	// ExtendSession moves the expiry to expiresAt only if the session is
	// still valid at now. It reports whether the session was extended.
	ExtendSession(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	// DeleteUserSessions removes all sessions of userID except exceptID
	// (which may be empty) and returns how many were removed.
	DeleteUserSessions(ctx context.Context, userID, exceptID string) (int, error)
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
}

// Roles persists roles, assignments and node-scoped grants.
type Roles interface {
	CreateRole(ctx context.Context, r Role) error
	RoleByID(ctx context.Context, id string) (*Role, error)
	RoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id, description string, permissions []string, at time.Time) error
	// DeleteUnassignedRole deletes a non-system role that no user holds.
	// It reports false when the guard prevented the delete.
	DeleteUnassignedRole(ctx context.Context, id string) (bool, error)
	CountAssignments(ctx context.Context, roleID string) (int, error)

	AssignRole(ctx context.Context, ur UserRole) error
	RemoveRole(ctx context.Context, userID, roleID string) (bool, error)
	UserRoles(ctx context.Context, userID string) ([]RoleAssignment, error)

	CreateNode(ctx context.Context, n PermissionNode) error
	NodeByPath(ctx context.Context, path string) (*PermissionNode, error)
	GrantNode(ctx context.Context, g NodeGrant) error
	RevokeNode(ctx context.Context, userID, nodeID, permission string) (bool, error)
	// ActiveNodeGrants returns grants on nodePath that have not expired at now.
	ActiveNodeGrants(ctx context.Context, userID, nodePath string, now time.Time) ([]NodeGrant, error)
}

// Tokens persists single-use token hashes, at most one per user and purpose.
type Tokens interface {
	// ReplaceToken atomically supersedes any token of the same user and purpose.
	ReplaceToken(ctx context.Context, t Token) error
	// ConsumeToken deletes and returns the token with the given hash,
	// whether or not it has expired. ErrNotFound means it was never issued
	// or is already consumed.
	ConsumeToken(ctx context.Context, purpose TokenPurpose, hash string) (*Token, error)
	DeleteUserTokens(ctx context.Context, userID string, purpose TokenPurpose) error
}

// Activity persists the audit trail.
type Activity interface {
	InsertActivity(ctx context.Context, e ActivityEntry) error
	QueryActivity(ctx context.Context, q Query) ([]ActivityEntry, error)
	PruneActivity(ctx context.Context, before time.Time) (int64, error)
}

// ConfigValues persists runtime configuration overrides.
type ConfigValues interface {
	ConfigValue(ctx context.Context, key string) (*ConfigValue, error)
	PutConfigValue(ctx context.Context, v ConfigValue) error
	DeleteConfigValue(ctx context.Context, key string) error
	ListConfigValues(ctx context.Context) ([]ConfigValue, error)
}

// Store is the full durable store.
type Store interface {
	Users
	Sessions
	Roles
	Tokens
	Activity
	ConfigValues
}
