package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/store"
)

// CreateRole creates a custom (non-system) role.
func (r *Resolver) CreateRole(ctx context.Context, name, description string, perms []string) (*store.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	perms = dedupe(perms)
	if err := r.validate(perms); err != nil {
		return nil, err
	}

	now := r.now()
	role := store.Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.roles.CreateRole(ctx, role); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrRoleExists
		}
		return nil, unavailable(err)
	}
	return &role, nil
}

// UpdateRolePermissions replaces the description and permission set of a
// role. The super-admin role is immutable.
func (r *Resolver) UpdateRolePermissions(ctx context.Context, roleID, description string, perms []string) error {
	role, err := r.role(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole && role.Name == RoleSuperAdmin {
		return ErrSystemRole
	}
	perms = dedupe(perms)
	if err := r.validate(perms); err != nil {
		return err
	}

	if err := r.roles.UpdateRole(ctx, roleID, description, perms, r.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return unavailable(err)
	}
	return nil
}

// DeleteRole deletes a role. System roles and roles held by at least one
// user are refused.
func (r *Resolver) DeleteRole(ctx context.Context, roleID string) error {
	role, err := r.role(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return ErrSystemRole
	}

	deleted, err := r.roles.DeleteUnassignedRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return unavailable(err)
	}
	if !deleted {
		return ErrRoleInUse
	}
	return nil
}

// AssignRole gives roleID to userID. A duplicate assignment returns
// ErrAlreadyAssigned.
func (r *Resolver) AssignRole(ctx context.Context, userID, roleID, assignedBy string) error {
	if _, err := r.role(ctx, roleID); err != nil {
		return err
	}

	err := r.roles.AssignRole(ctx, store.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: r.now(),
		AssignedBy: assignedBy,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return ErrAlreadyAssigned
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	default:
		return unavailable(err)
	}
}

// RemoveRole takes roleID away from userID and reports whether the user
// held it.
func (r *Resolver) RemoveRole(ctx context.Context, userID, roleID string) (bool, error) {
	removed, err := r.roles.RemoveRole(ctx, userID, roleID)
	if err != nil {
		return false, unavailable(err)
	}
	return removed, nil
}

// Roles lists every role by name.
func (r *Resolver) Roles(ctx context.Context) ([]store.Role, error) {
	roles, err := r.roles.ListRoles(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return roles, nil
}

// RoleByName returns the named role.
func (r *Resolver) RoleByName(ctx context.Context, name string) (*store.Role, error) {
	role, err := r.roles.RoleByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, unavailable(err)
	}
	return role, nil
}

// UserRoles lists the roles userID holds, oldest assignment first.
func (r *Resolver) UserRoles(ctx context.Context, userID string) ([]store.RoleAssignment, error) {
	out, err := r.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// RoleAssignments returns how many users hold roleID.
func (r *Resolver) RoleAssignments(ctx context.Context, roleID string) (int, error) {
	n, err := r.roles.CountAssignments(ctx, roleID)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// CreateNode registers a resource path such as "reports/finance".
func (r *Resolver) CreateNode(ctx context.Context, path, description string) (*store.PermissionNode, error) {
	path = normalizePath(path)
	if path == "" {
		return nil, ErrInvalidNode
	}
	node := store.PermissionNode{
		ID:          uuid.NewString(),
		Path:        path,
		Description: description,
		CreatedAt:   r.now(),
	}
	if err := r.roles.CreateNode(ctx, node); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrNodeExists
		}
		return nil, unavailable(err)
	}
	return &node, nil
}

// GrantNodePermission grants perm on nodePath to userID. A nil expiresAt
// never expires. Granting an existing (user, node, permission) triple
// replaces its expiry.
func (r *Resolver) GrantNodePermission(ctx context.Context, userID, nodePath, perm, grantedBy string, expiresAt *time.Time) error {
	if err := r.validate([]string{perm}); err != nil {
		return err
	}
	node, err := r.node(ctx, nodePath)
	if err != nil {
		return err
	}

	err = r.roles.GrantNode(ctx, store.NodeGrant{
		ID:         uuid.NewString(),
		UserID:     userID,
		NodeID:     node.ID,
		NodePath:   node.Path,
		Permission: perm,
		GrantedAt:  r.now(),
		GrantedBy:  grantedBy,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return unavailable(err)
	}
	return nil
}

// RevokeNodePermission removes a grant and reports whether it existed.
func (r *Resolver) RevokeNodePermission(ctx context.Context, userID, nodePath, perm string) (bool, error) {
	node, err := r.node(ctx, nodePath)
	if err != nil {
		return false, err
	}
	revoked, err := r.roles.RevokeNode(ctx, userID, node.ID, perm)
	if err != nil {
		return false, unavailable(err)
	}
	return revoked, nil
}

func (r *Resolver) role(ctx context.Context, id string) (*store.Role, error) {
	role, err := r.roles.RoleByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, unavailable(err)
	}
	return role, nil
}

func (r *Resolver) node(ctx context.Context, path string) (*store.PermissionNode, error) {
	node, err := r.roles.NodeByPath(ctx, normalizePath(path))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, unavailable(err)
	}
	return node, nil
}

func (r *Resolver) validate(perms []string) error {
	if r.catalog == nil {
		return nil
	}
	return r.catalog.Validate(perms)
}

func normalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func dedupe(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
