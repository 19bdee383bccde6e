package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/panelauth"
)

/* ==================== USERS ==================== */

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.engine.ListUsers(r.Context(), actor(r), q.Get("search"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, r, "list_users", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": newUserViews(users)})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username              string   `json:"username"`
		Email                 string   `json:"email"`
		Password              string   `json:"password"`
		FirstName             string   `json:"firstName"`
		LastName              string   `json:"lastName"`
		Roles                 []string `json:"roles"`
		RequirePasswordChange bool     `json:"requirePasswordChange"`
		EmailVerified         bool     `json:"emailVerified"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "create_user", err)
		return
	}
	u, err := s.engine.CreateUser(r.Context(), actor(r), panelauth.CreateUserRequest(body))
	if err != nil {
		s.writeError(w, r, "create_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": newUserView(u)})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username              string `json:"username"`
		Email                 string `json:"email"`
		FirstName             string `json:"firstName"`
		LastName              string `json:"lastName"`
		RequirePasswordChange bool   `json:"requirePasswordChange"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "update_user", err)
		return
	}
	u, err := s.engine.UpdateUser(r.Context(), actor(r), mux.Vars(r)["id"], panelauth.UpdateUserRequest(body))
	if err != nil {
		s.writeError(w, r, "update_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserView(u)})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteUser(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, "delete_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) lockUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permanent bool `json:"permanent"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "lock_user", err)
		return
	}
	until, err := s.engine.LockAccount(r.Context(), actor(r), mux.Vars(r)["id"], body.Permanent)
	if err != nil {
		s.writeError(w, r, "lock_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lockedUntil": until})
}

func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnlockAccount(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, "unlock_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) disableUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "disable_user", err)
		return
	}
	if err := s.engine.DisableAccount(r.Context(), actor(r), mux.Vars(r)["id"], body.Reason); err != nil {
		s.writeError(w, r, "disable_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) enableUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnableAccount(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, "enable_user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) lockedAccounts(w http.ResponseWriter, r *http.Request) {
	locked, err := s.engine.LockedAccounts(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "locked_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": newLockedViews(locked)})
}

/* ==================== ROLES ==================== */

type roleBody struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.Roles(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "list_roles", err)
		return
	}
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, newRoleView(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "create_role", err)
		return
	}
	role, err := s.engine.CreateRole(r.Context(), actor(r), body.Name, body.Description, body.Permissions)
	if err != nil {
		s.writeError(w, r, "create_role", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"role": newRoleView(*role)})
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "update_role", err)
		return
	}
	if err := s.engine.UpdateRole(r.Context(), actor(r), mux.Vars(r)["id"], body.Description, body.Permissions); err != nil {
		s.writeError(w, r, "update_role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRole(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, "delete_role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) userRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.UserRoles(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "user_roles", err)
		return
	}
	type assignment struct {
		Name       string    `json:"name"`
		AssignedAt time.Time `json:"assignedAt"`
		AssignedBy string    `json:"assignedBy,omitempty"`
	}
	out := make([]assignment, 0, len(roles))
	for _, ri := range roles {
		out = append(out, assignment(ri))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoleID string `json:"roleId"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "assign_role", err)
		return
	}
	if err := s.engine.AssignRole(r.Context(), actor(r), mux.Vars(r)["id"], body.RoleID); err != nil {
		s.writeError(w, r, "assign_role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) removeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.RemoveRole(r.Context(), actor(r), vars["id"], vars["roleId"]); err != nil {
		s.writeError(w, r, "remove_role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

/* ==================== PERMISSION NODES ==================== */

type nodeGrantBody struct {
	Path       string     `json:"path"`
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "create_node", err)
		return
	}
	node, err := s.engine.CreatePermissionNode(r.Context(), actor(r), body.Path, body.Description)
	if err != nil {
		s.writeError(w, r, "create_node", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": node.ID, "path": node.Path, "description": node.Description})
}

func (s *Server) grantNode(w http.ResponseWriter, r *http.Request) {
	var body nodeGrantBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "grant_node", err)
		return
	}
	if err := s.engine.GrantNodePermission(r.Context(), actor(r), mux.Vars(r)["id"], body.Path, body.Permission, body.ExpiresAt); err != nil {
		s.writeError(w, r, "grant_node", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) revokeNode(w http.ResponseWriter, r *http.Request) {
	var body nodeGrantBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "revoke_node", err)
		return
	}
	revoked, err := s.engine.RevokeNodePermission(r.Context(), actor(r), mux.Vars(r)["id"], body.Path, body.Permission)
	if err != nil {
		s.writeError(w, r, "revoke_node", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": revoked})
}

/* ==================== ACTIVITY & CONFIG ==================== */

func (s *Server) activityLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := panelauth.ActivityFilter{
		UserID:   q.Get("userId"),
		Action:   q.Get("action"),
		Category: q.Get("category"),
		Severity: q.Get("severity"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Success = &b
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		}
	}

	entries, err := s.engine.ActivityLog(r.Context(), actor(r), f)
	if err != nil {
		s.writeError(w, r, "activity_log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": newActivityViews(entries)})
}

func (s *Server) configDefinitions(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.ConfigDefinitions(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "config_definitions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": newSettingViews(settings)})
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value any `json:"value"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "set_config", err)
		return
	}
	if err := s.engine.SetConfig(r.Context(), actor(r), mux.Vars(r)["key"], body.Value); err != nil {
		s.writeError(w, r, "set_config", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) resetConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetConfig(r.Context(), actor(r), mux.Vars(r)["key"]); err != nil {
		s.writeError(w, r, "reset_config", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
