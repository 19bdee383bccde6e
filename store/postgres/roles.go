package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

const roleSelect = `SELECT id, name, description, permissions, is_system_role, created_at, updated_at FROM roles`

func scanRole(row rowScanner) (*store.Role, error) {
	var (
		r     store.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &perms, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	list, err := decodeList(perms)
	if err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	r.Permissions = list
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r store.Role) error {
	perms, err := encodeList(r.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, permissions, is_system_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Name, r.Description, perms, r.IsSystemRole, r.CreatedAt, r.UpdatedAt,
	)
	return dbError(err)
}

func (s *Store) RoleByID(ctx context.Context, id string) (*store.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, dbError(err)
	}
	return r, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (*store.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE name = $1`, name))
	if err != nil {
		return nil, dbError(err)
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]store.Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSelect+` ORDER BY name`)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, dbError(err)
		}
		out = append(out, *r)
	}
	return out, dbError(rows.Err())
}

func (s *Store) UpdateRole(ctx context.Context, id, description string, permissions []string, at time.Time) error {
	perms, err := encodeList(permissions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE roles SET description = $2, permissions = $3, updated_at = $4 WHERE id = $1`,
		id, description, perms, at,
	)
	return requireRow(res, err)
}

func (s *Store) DeleteUnassignedRole(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM roles WHERE id = $1 AND NOT is_system_role
		AND NOT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1)`,
		id,
	)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CountAssignments(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func (s *Store) AssignRole(ctx context.Context, ur store.UserRole) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by) VALUES ($1, $2, $3, $4)`,
		ur.UserID, ur.RoleID, ur.AssignedAt, nullString(ur.AssignedBy),
	)
	return dbError(err)
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) UserRoles(ctx context.Context, userID string) ([]store.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.description, r.permissions, r.is_system_role, r.created_at, r.updated_at,
			ur.assigned_at, ur.assigned_by
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY ur.assigned_at`,
		userID,
	)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.RoleAssignment
	for rows.Next() {
		var (
			a     store.RoleAssignment
			perms []byte
			by    sql.NullString
		)
		if err := rows.Scan(&a.Role.ID, &a.Role.Name, &a.Role.Description, &perms, &a.Role.IsSystemRole,
			&a.Role.CreatedAt, &a.Role.UpdatedAt, &a.AssignedAt, &by); err != nil {
			return nil, dbError(err)
		}
		list, err := decodeList(perms)
		if err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
		a.Role.Permissions = list
		a.AssignedBy = by.String
		out = append(out, a)
	}
	return out, dbError(rows.Err())
}

func (s *Store) CreateNode(ctx context.Context, n store.PermissionNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permission_nodes (id, path, description, created_at) VALUES ($1, $2, $3, $4)`,
		n.ID, n.Path, n.Description, n.CreatedAt,
	)
	return dbError(err)
}

func (s *Store) NodeByPath(ctx context.Context, path string) (*store.PermissionNode, error) {
	var n store.PermissionNode
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, description, created_at FROM permission_nodes WHERE path = $1`, path,
	).Scan(&n.ID, &n.Path, &n.Description, &n.CreatedAt)
	if err != nil {
		return nil, dbError(err)
	}
	return &n, nil
}

func (s *Store) GrantNode(ctx context.Context, g store.NodeGrant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_node_permissions (id, user_id, node_id, permission, granted_at, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, node_id, permission)
		DO UPDATE SET granted_at = EXCLUDED.granted_at, granted_by = EXCLUDED.granted_by, expires_at = EXCLUDED.expires_at`,
		g.ID, g.UserID, g.NodeID, g.Permission, g.GrantedAt, nullString(g.GrantedBy), timeArg(g.ExpiresAt),
	)
	return dbError(err)
}

func (s *Store) RevokeNode(ctx context.Context, userID, nodeID, permission string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_node_permissions WHERE user_id = $1 AND node_id = $2 AND permission = $3`,
		userID, nodeID, permission,
	)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ActiveNodeGrants(ctx context.Context, userID, nodePath string, now time.Time) ([]store.NodeGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.user_id, g.node_id, n.path, g.permission, g.granted_at, g.granted_by, g.expires_at
		FROM user_node_permissions g JOIN permission_nodes n ON n.id = g.node_id
		WHERE g.user_id = $1 AND n.path = $2 AND (g.expires_at IS NULL OR g.expires_at > $3)`,
		userID, nodePath, now,
	)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.NodeGrant
	for rows.Next() {
		var (
			g       store.NodeGrant
			by      sql.NullString
			expires sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.NodeID, &g.NodePath, &g.Permission, &g.GrantedAt, &by, &expires); err != nil {
			return nil, dbError(err)
		}
		g.GrantedBy = by.String
		g.ExpiresAt = nullTime(expires)
		out = append(out, g)
	}
	return out, dbError(rows.Err())
}
