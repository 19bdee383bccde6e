package panelauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/store"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Every operation in this file re-resolves the actor's permissions from
// the store before acting; AuthContext.Permissions is only a hint for
// rendering.

/*
====================================
USERS
====================================
*/

// ListUsers pages through users, newest first. search matches usernames
// case-insensitively.
func (e *Engine) ListUsers(ctx context.Context, actor *AuthContext, search string, limit, offset int) ([]store.User, error) {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return nil, err
	}
	search = strings.TrimSpace(search)
	q := store.Where(store.When(search != "", store.Contains(store.FieldUsername, search)))
	return e.store.ListUsers(ctx, q.Page(clampLimit(limit), offset))
}

// UserRoles lists the roles held by userID.
func (e *Engine) UserRoles(ctx context.Context, actor *AuthContext, userID string) ([]UserRoleInfo, error) {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return nil, err
	}
	assignments, err := e.resolver.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]UserRoleInfo, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, UserRoleInfo{Name: a.Role.Name, AssignedAt: a.AssignedAt, AssignedBy: a.AssignedBy})
	}
	return out, nil
}

// CreateUser creates an account on behalf of an administrator. Without
// explicit roles the account gets the default user role.
func (e *Engine) CreateUser(ctx context.Context, actor *AuthContext, req CreateUserRequest) (*store.User, error) {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return nil, err
	}

	roles := make([]*store.Role, 0, len(req.Roles))
	for _, name := range req.Roles {
		r, err := e.resolver.RoleByName(ctx, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if err := e.canGrantRole(ctx, actor, r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}

	u, err := e.newUser(ctx, req.Username, req.Email, req.Password, req.FirstName, req.LastName, false)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if req.RequirePasswordChange {
		if err := e.store.UpdatePassword(ctx, u.ID, u.PasswordHash, true, now); err != nil {
			return nil, err
		}
		u.RequirePasswordChange = true
	}
	if req.EmailVerified {
		if err := e.store.MarkEmailVerified(ctx, u.ID, now); err != nil {
			return nil, err
		}
		u.EmailVerified = true
		u.EmailVerifiedAt = &now
	}

	if len(roles) == 0 {
		if err := e.assignDefaultRole(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	for _, r := range roles {
		if err := e.resolver.AssignRole(ctx, u.ID, r.ID, actor.User.ID); err != nil {
			return nil, err
		}
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserCreate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"username": u.Username, "roles": req.Roles},
	})
	return u, nil
}

// UpdateUser rewrites another account's identity fields and its
// require_password_change flag. The email verification state is kept.
func (e *Engine) UpdateUser(ctx context.Context, actor *AuthContext, userID string, req UpdateUserRequest) (*store.User, error) {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "User ID is required")
	}

	username := normalizeUsername(req.Username)
	email := normalizeEmail(req.Email)
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateName("firstName", "first name", first); err != nil {
		return nil, err
	}
	if err := validateName("lastName", "last name", last); err != nil {
		return nil, err
	}

	u, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	changed := changedFields(u, username, email, first, last)
	if req.RequirePasswordChange != u.RequirePasswordChange {
		changed = append(changed, "requirePasswordChange")
	}

	err = e.writeProfile(ctx, u, store.ProfileUpdate{
		Username:              username,
		Email:                 email,
		FirstName:             first,
		LastName:              last,
		RequirePasswordChange: req.RequirePasswordChange,
		EmailVerified:         u.EmailVerified,
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserUpdate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"fields": changed},
	})
	return u, nil
}

// DeleteUser removes another user's account.
func (e *Engine) DeleteUser(ctx context.Context, actor *AuthContext, userID string) error {
	u, err := e.adminTarget(ctx, actor, permission.ManageUsers, userID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteUser(ctx, u.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserDelete,
		category:     audit.CategoryAdmin,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"username": u.Username},
	})
	return nil
}

// LockAccount locks another user's account, permanently or for the
// configured lockout duration, and ends their sessions. It returns the
// deadline of a timed lock.
func (e *Engine) LockAccount(ctx context.Context, actor *AuthContext, userID string, permanent bool) (*time.Time, error) {
	u, err := e.adminTarget(ctx, actor, permission.ManageUsers, userID)
	if err != nil {
		return nil, err
	}
	until, err := e.lockout.LockAccount(ctx, u.ID, permanent)
	if err != nil {
		return nil, err
	}
	revoked, err := e.sessions.InvalidateUser(ctx, u.ID, "")
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserLock,
		category:     audit.CategoryAdmin,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"permanent": permanent, "lockedUntil": until, "sessionsRevoked": revoked},
	})
	return until, nil
}

// UnlockAccount clears any lock on userID and resets the failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, actor *AuthContext, userID string) error {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return err
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.lockout.UnlockAccount(ctx, u.ID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserUnlock,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
	})
	return nil
}

// LockedAccounts lists accounts with the lock flag set. Timed locks that
// have already expired are lifted while listing and left out.
func (e *Engine) LockedAccounts(ctx context.Context, actor *AuthContext) ([]LockedAccount, error) {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return nil, err
	}
	users, err := e.lockout.LockedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]LockedAccount, 0, len(users))
	for _, u := range users {
		st, err := e.lockout.IsAccountLocked(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		if !st.Locked {
			continue
		}
		out = append(out, LockedAccount{
			UserID:         u.ID,
			Username:       u.Username,
			Email:          u.Email,
			LockedAt:       u.LockedAt,
			LockedUntil:    st.LockedUntil,
			Permanent:      st.Permanent,
			FailedAttempts: u.FailedLoginAttempts,
		})
	}
	return out, nil
}

// DisableAccount deactivates another user's account and ends their
// sessions. Unlike a lock it is not lifted by a password reset.
func (e *Engine) DisableAccount(ctx context.Context, actor *AuthContext, userID, reason string) error {
	u, err := e.adminTarget(ctx, actor, permission.ManageUsers, userID)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if err := e.store.SetDisabled(ctx, u.ID, true, actor.User.ID, reason, e.now().UTC()); err != nil {
		return err
	}
	revoked, err := e.sessions.InvalidateUser(ctx, u.ID, "")
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserUpdate,
		category:     audit.CategoryAdmin,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"disabled": true, "reason": reason, "sessionsRevoked": revoked},
	})
	return nil
}

func (e *Engine) EnableAccount(ctx context.Context, actor *AuthContext, userID string) error {
	u, err := e.adminTarget(ctx, actor, permission.ManageUsers, userID)
	if err != nil {
		return err
	}
	if err := e.store.SetDisabled(ctx, u.ID, false, "", "", e.now().UTC()); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditUserUpdate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"disabled": false},
	})
	return nil
}

// adminTarget authorizes perm and loads userID, refusing actions on the
// actor's own account.
func (e *Engine) adminTarget(ctx context.Context, actor *AuthContext, perm, userID string) (*store.User, error) {
	if err := e.authorize(ctx, actor, perm); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "User ID is required")
	}
	if userID == actor.User.ID {
		return nil, ErrSelfAction
	}
	return e.userByID(ctx, userID)
}

/*
====================================
ROLES
====================================
*/

func (e *Engine) Roles(ctx context.Context, actor *AuthContext) ([]store.Role, error) {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return nil, err
	}
	return e.resolver.Roles(ctx)
}

// CreateRole creates a custom role. At least one permission is required.
func (e *Engine) CreateRole(ctx context.Context, actor *AuthContext, name, description string, perms []string) (*store.Role, error) {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalid("name", "Role name is required")
	}
	if len(perms) == 0 {
		return nil, invalid("permissions", "At least one permission is required")
	}
	if err := e.canGrantPermissions(ctx, actor, perms); err != nil {
		return nil, err
	}

	r, err := e.resolver.CreateRole(ctx, name, description, perms)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditRoleCreate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "role",
		resourceID:   r.ID,
		success:      true,
		metadata:     map[string]any{"name": r.Name, "permissions": r.Permissions},
	})
	return r, nil
}

// UpdateRole replaces a role's description and permissions.
func (e *Engine) UpdateRole(ctx context.Context, actor *AuthContext, roleID, description string, perms []string) error {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return err
	}
	if len(perms) == 0 {
		return invalid("permissions", "At least one permission is required")
	}
	if err := e.canGrantPermissions(ctx, actor, perms); err != nil {
		return err
	}
	if err := e.resolver.UpdateRolePermissions(ctx, roleID, description, perms); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditRoleUpdate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "role",
		resourceID:   roleID,
		success:      true,
		metadata:     map[string]any{"permissions": perms},
	})
	return nil
}

func (e *Engine) DeleteRole(ctx context.Context, actor *AuthContext, roleID string) error {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return err
	}
	if err := e.resolver.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditRoleDelete,
		category:     audit.CategoryAdmin,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "role",
		resourceID:   roleID,
		success:      true,
	})
	return nil
}

// AssignRole gives roleID to userID. Roles carrying the admin override
// can only be handed out by an administrator.
func (e *Engine) AssignRole(ctx context.Context, actor *AuthContext, userID, roleID string) error {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return err
	}
	if userID == "" || roleID == "" {
		return invalid("roleId", "User ID and Role ID are required")
	}
	u, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}
	roles, err := e.resolver.Roles(ctx)
	if err != nil {
		return err
	}
	var role *store.Role
	for i := range roles {
		if roles[i].ID == roleID {
			role = &roles[i]
			break
		}
	}
	if role == nil {
		return permission.ErrRoleNotFound
	}
	if err := e.canGrantRole(ctx, actor, role); err != nil {
		return err
	}

	if err := e.resolver.AssignRole(ctx, u.ID, role.ID, actor.User.ID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditRoleAssign,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   u.ID,
		success:      true,
		metadata:     map[string]any{"roleId": role.ID, "role": role.Name},
	})
	return nil
}

// RemoveRole takes roleID away from userID. Removing a role the user
// does not hold is not an error.
func (e *Engine) RemoveRole(ctx context.Context, actor *AuthContext, userID, roleID string) error {
	if err := e.authorize(ctx, actor, permission.ManageUsers); err != nil {
		return err
	}
	if userID == "" || roleID == "" {
		return invalid("roleId", "User ID and Role ID are required")
	}
	removed, err := e.resolver.RemoveRole(ctx, userID, roleID)
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditRoleRevoke,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   userID,
		success:      true,
		metadata:     map[string]any{"roleId": roleID, "removed": removed},
	})
	return nil
}

func (e *Engine) canGrantRole(ctx context.Context, actor *AuthContext, r *store.Role) error {
	return e.canGrantPermissions(ctx, actor, r.Permissions)
}

// canGrantPermissions refuses to hand out the admin override to anyone
// but an administrator.
func (e *Engine) canGrantPermissions(ctx context.Context, actor *AuthContext, perms []string) error {
	for _, p := range perms {
		if p == permission.Admin {
			return e.authorize(ctx, actor, permission.Admin)
		}
	}
	return nil
}

/*
====================================
PERMISSION NODES
====================================
*/

func (e *Engine) CreatePermissionNode(ctx context.Context, actor *AuthContext, path, description string) (*store.PermissionNode, error) {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return nil, err
	}
	n, err := e.resolver.CreateNode(ctx, path, description)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditNodeCreate,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "permission_node",
		resourceID:   n.ID,
		success:      true,
		metadata:     map[string]any{"path": n.Path},
	})
	return n, nil
}

// GrantNodePermission grants perm on nodePath to userID until expiresAt,
// or indefinitely when expiresAt is nil.
func (e *Engine) GrantNodePermission(ctx context.Context, actor *AuthContext, userID, nodePath, perm string, expiresAt *time.Time) error {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return err
	}
	if err := e.canGrantPermissions(ctx, actor, []string{perm}); err != nil {
		return err
	}
	if expiresAt != nil && !expiresAt.After(e.now()) {
		return invalid("expiresAt", "Expiry must be in the future")
	}
	if err := e.resolver.GrantNodePermission(ctx, userID, nodePath, perm, actor.User.ID, expiresAt); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditPermissionGrant,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   userID,
		success:      true,
		metadata:     map[string]any{"node": nodePath, "permission": perm, "expiresAt": expiresAt},
	})
	return nil
}

// RevokeNodePermission removes a node grant and reports whether it
// existed.
func (e *Engine) RevokeNodePermission(ctx context.Context, actor *AuthContext, userID, nodePath, perm string) (bool, error) {
	if err := e.authorize(ctx, actor, permission.ManageRoles); err != nil {
		return false, err
	}
	revoked, err := e.resolver.RevokeNodePermission(ctx, userID, nodePath, perm)
	if err != nil {
		return false, err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditPermissionRevoke,
		category:     audit.CategoryAdmin,
		userID:       actor.User.ID,
		resourceType: "user",
		resourceID:   userID,
		success:      true,
		metadata:     map[string]any{"node": nodePath, "permission": perm, "revoked": revoked},
	})
	return revoked, nil
}

/*
====================================
ACTIVITY & CONFIG
====================================
*/

// ActivityLog queries the audit trail.
func (e *Engine) ActivityLog(ctx context.Context, actor *AuthContext, f ActivityFilter) ([]store.ActivityEntry, error) {
	if err := e.authorize(ctx, actor, permission.ViewLogs); err != nil {
		return nil, err
	}
	return e.queryActivity(ctx, f)
}

// MyActivity returns the caller's own recent activity. It needs no
// permission.
func (e *Engine) MyActivity(ctx context.Context, actor *AuthContext, limit, offset int) ([]store.ActivityEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return e.queryActivity(ctx, ActivityFilter{UserID: actor.User.ID, Limit: limit, Offset: offset})
}

func (e *Engine) queryActivity(ctx context.Context, f ActivityFilter) ([]store.ActivityEntry, error) {
	var success store.Predicate
	if f.Success != nil {
		success = store.Eq(store.FieldSuccess, *f.Success)
	}
	q := store.Where(
		store.When(f.UserID != "", store.Eq(store.FieldUserID, f.UserID)),
		store.When(f.Action != "", store.Eq(store.FieldAction, f.Action)),
		store.When(f.Category != "", store.Eq(store.FieldCategory, f.Category)),
		store.When(f.Severity != "", store.Eq(store.FieldSeverity, f.Severity)),
		store.When(!f.Since.IsZero(), store.Since(store.FieldCreatedAt, f.Since)),
		success,
	)
	return e.store.QueryActivity(ctx, q.Page(clampLimit(f.Limit), f.Offset))
}

// ConfigDefinitions lists every runtime setting with its current value.
func (e *Engine) ConfigDefinitions(ctx context.Context, actor *AuthContext) ([]runtimecfg.Setting, error) {
	if err := e.authorize(ctx, actor, permission.ViewConfig); err != nil {
		return nil, err
	}
	return e.settings.Definitions(ctx)
}

// SetConfig changes a runtime setting. The new value applies to the next
// decision that reads it.
func (e *Engine) SetConfig(ctx context.Context, actor *AuthContext, key string, value any) error {
	if err := e.authorize(ctx, actor, permission.EditConfig); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return invalid("key", "Missing config key")
	}
	old, _ := e.settings.Get(ctx, key)
	if err := e.settings.Set(ctx, key, value, actor.User.ID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditConfigUpdate,
		category:     audit.CategorySystem,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "config",
		resourceID:   key,
		success:      true,
		metadata:     map[string]any{"old": old, "new": value},
	})
	return nil
}

// ResetConfig restores a setting to its default.
func (e *Engine) ResetConfig(ctx context.Context, actor *AuthContext, key string) error {
	if err := e.authorize(ctx, actor, permission.EditConfig); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return invalid("key", "Missing config key")
	}
	if err := e.settings.Reset(ctx, key); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEntry{
		action:       auditConfigReset,
		category:     audit.CategorySystem,
		severity:     audit.SeverityWarning,
		userID:       actor.User.ID,
		resourceType: "config",
		resourceID:   key,
		success:      true,
	})
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultActivityLimit
	case n > maxActivityLimit:
		return maxActivityLimit
	default:
		return n
	}
}
