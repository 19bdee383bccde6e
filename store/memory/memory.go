// Package memory is an in-process implementation of store.Store. A single
// mutex serializes every operation, which gives the same atomicity the
// PostgreSQL adapter gets from conditional statements.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

type userRoleKey struct {
	userID string
	roleID string
}

type tokenKey struct {
	userID  string
	purpose store.TokenPurpose
}

// Store is a store.Store held in memory.
type Store struct {
	mu sync.Mutex

	users     map[string]*store.User
	sessions  map[string]store.Session
	roles     map[string]*store.Role
	userRoles map[userRoleKey]store.UserRole
	nodes     map[string]store.PermissionNode
	grants    map[string]store.NodeGrant
	tokens    map[tokenKey]store.Token
	activity  []store.ActivityEntry
	config    map[string]store.ConfigValue
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[string]*store.User),
		sessions:  make(map[string]store.Session),
		roles:     make(map[string]*store.Role),
		userRoles: make(map[userRoleKey]store.UserRole),
		nodes:     make(map[string]store.PermissionNode),
		grants:    make(map[string]store.NodeGrant),
		tokens:    make(map[tokenKey]store.Token),
		config:    make(map[string]store.ConfigValue),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u *store.User) *store.User {
	c := *u
	c.BackupCodes = slices.Clone(u.BackupCodes)
	c.LockedAt = copyTime(u.LockedAt)
	c.LockedUntil = copyTime(u.LockedUntil)
	c.LastFailedLogin = copyTime(u.LastFailedLogin)
	c.EmailVerifiedAt = copyTime(u.EmailVerifiedAt)
	c.DisabledAt = copyTime(u.DisabledAt)
	return &c
}

func cloneRole(r *store.Role) store.Role {
	c := *r
	c.Permissions = slices.Clone(r.Permissions)
	return c
}

/*
====================================
USERS
====================================
*/

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return store.ErrConflict
		}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *Store) UserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) FindUser(ctx context.Context, q store.Query) (*store.User, error) {
	q.Limit = 1
	users, err := s.ListUsers(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

func (s *Store) ListUsers(_ context.Context, q store.Query) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.User
	for _, u := range s.users {
		ok, err := matchUser(u, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, q), nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, sid)
		}
	}
	for k := range s.userRoles {
		if k.userID == id {
			delete(s.userRoles, k)
		}
	}
	for gid, g := range s.grants {
		if g.UserID == id {
			delete(s.grants, gid)
		}
	}
	for k := range s.tokens {
		if k.userID == id {
			delete(s.tokens, k)
		}
	}
	return nil
}

// mutateUser runs fn on the stored record under the lock.
func (s *Store) mutateUser(id string, fn func(u *store.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	return nil
}

func (s *Store) UpdatePassword(_ context.Context, id, hash string, requireChange bool, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.PasswordHash = hash
		u.RequirePasswordChange = requireChange
		u.UpdatedAt = at
	})
}

func (s *Store) UpdateUserProfile(_ context.Context, id string, p store.ProfileUpdate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	for otherID, other := range s.users {
		if otherID == id {
			continue
		}
		if strings.EqualFold(other.Username, p.Username) || strings.EqualFold(other.Email, p.Email) {
			return store.ErrConflict
		}
	}

	u.Username = p.Username
	u.Email = p.Email
	u.FirstName = p.FirstName
	u.LastName = p.LastName
	u.RequirePasswordChange = p.RequirePasswordChange
	switch {
	case !p.EmailVerified:
		u.EmailVerified = false
		u.EmailVerifiedAt = nil
	case !u.EmailVerified:
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
	}
	u.UpdatedAt = at
	return nil
}

func (s *Store) SetTwoFactor(_ context.Context, id string, st store.TwoFactorState, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.TOTPSecret = st.Secret
		u.TwoFactorEnabled = st.Enabled
		u.BackupCodes = slices.Clone(st.BackupCodes)
		u.UpdatedAt = at
	})
}

func (s *Store) ConsumeBackupCode(_ context.Context, id, hash string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	idx := slices.Index(u.BackupCodes, hash)
	if idx < 0 {
		return len(u.BackupCodes), store.ErrNotFound
	}
	u.BackupCodes = slices.Delete(slices.Clone(u.BackupCodes), idx, idx+1)
	u.UpdatedAt = at
	return len(u.BackupCodes), nil
}

func (s *Store) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
		u.UpdatedAt = at
	})
}

func (s *Store) SetDisabled(_ context.Context, id string, disabled bool, by, reason string, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.IsDisabled = disabled
		if disabled {
			u.DisabledAt = &at
			u.DisabledBy = by
			u.DisableReason = reason
		} else {
			u.DisabledAt = nil
			u.DisabledBy = ""
			u.DisableReason = ""
		}
		u.UpdatedAt = at
	})
}

func (s *Store) RecordFailedLogin(_ context.Context, id string, now time.Time, p store.LockoutPolicy) (store.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.LockoutState{}, store.ErrNotFound
	}

	attempts := u.FailedLoginAttempts + 1
	if u.LastFailedLogin != nil && u.LastFailedLogin.Before(now.Add(-p.ResetAfter)) {
		attempts = 1
	}
	u.FailedLoginAttempts = attempts
	u.LastFailedLogin = &now
	if attempts >= p.MaxAttempts && !u.IsLocked {
		until := now.Add(p.LockDuration)
		u.IsLocked = true
		u.LockedAt = &now
		u.LockedUntil = &until
	}
	u.UpdatedAt = now

	return store.LockoutState{
		FailedAttempts: u.FailedLoginAttempts,
		IsLocked:       u.IsLocked,
		LockedUntil:    copyTime(u.LockedUntil),
	}, nil
}

func (s *Store) ClearFailedLogins(_ context.Context, id string, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.FailedLoginAttempts = 0
		u.LastFailedLogin = nil
		u.UpdatedAt = at
	})
}

func (s *Store) LockUser(_ context.Context, id string, at time.Time, until *time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		u.IsLocked = true
		u.LockedAt = &at
		u.LockedUntil = copyTime(until)
		u.UpdatedAt = at
	})
}

func (s *Store) UnlockUser(_ context.Context, id string, at time.Time) error {
	return s.mutateUser(id, func(u *store.User) {
		unlock(u, at)
	})
}

func (s *Store) UnlockExpired(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !u.IsLocked || u.LockedUntil == nil || u.LockedUntil.After(now) {
		return false, nil
	}
	unlock(u, now)
	return true, nil
}

func unlock(u *store.User, at time.Time) {
	u.IsLocked = false
	u.LockedAt = nil
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
	u.LastFailedLogin = nil
	u.UpdatedAt = at
}

/*
====================================
SESSIONS
====================================
*/

func (s *Store) CreateSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sess.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) SessionByID(_ context.Context, id string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) ExtendSession(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !now.Before(sess.ExpiresAt) {
		return false, nil
	}
	sess.ExpiresAt = expiresAt
	s.sessions[id] = sess
	return true, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && id != exceptID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListUserSessions(_ context.Context, userID string, now time.Time) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && now.Before(sess.ExpiresAt) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

/*
====================================
ROLES
====================================
*/

func (s *Store) CreateRole(_ context.Context, r store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.roles {
		if existing.ID == r.ID || existing.Name == r.Name {
			return store.ErrConflict
		}
	}
	c := cloneRole(&r)
	s.roles[r.ID] = &c
	return nil
}

func (s *Store) RoleByID(_ context.Context, id string) (*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := cloneRole(r)
	return &c, nil
}

func (s *Store) RoleByName(_ context.Context, name string) (*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.roles {
		if r.Name == name {
			c := cloneRole(r)
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListRoles(_ context.Context) ([]store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateRole(_ context.Context, id, description string, permissions []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Description = description
	r.Permissions = slices.Clone(permissions)
	r.UpdatedAt = at
	return nil
}

func (s *Store) DeleteUnassignedRole(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.IsSystemRole {
		return false, nil
	}
	for k := range s.userRoles {
		if k.roleID == id {
			return false, nil
		}
	}
	delete(s.roles, id)
	return true, nil
}

func (s *Store) CountAssignments(_ context.Context, roleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.userRoles {
		if k.roleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) AssignRole(_ context.Context, ur store.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[ur.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.roles[ur.RoleID]; !ok {
		return store.ErrNotFound
	}
	k := userRoleKey{userID: ur.UserID, roleID: ur.RoleID}
	if _, ok := s.userRoles[k]; ok {
		return store.ErrConflict
	}
	s.userRoles[k] = ur
	return nil
}

func (s *Store) RemoveRole(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := userRoleKey{userID: userID, roleID: roleID}
	if _, ok := s.userRoles[k]; !ok {
		return false, nil
	}
	delete(s.userRoles, k)
	return true, nil
}

func (s *Store) UserRoles(_ context.Context, userID string) ([]store.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.RoleAssignment
	for k, ur := range s.userRoles {
		if k.userID != userID {
			continue
		}
		r, ok := s.roles[k.roleID]
		if !ok {
			continue
		}
		out = append(out, store.RoleAssignment{Role: cloneRole(r), AssignedAt: ur.AssignedAt, AssignedBy: ur.AssignedBy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (s *Store) CreateNode(_ context.Context, n store.PermissionNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.nodes {
		if existing.ID == n.ID || existing.Path == n.Path {
			return store.ErrConflict
		}
	}
	s.nodes[n.ID] = n
	return nil
}

func (s *Store) NodeByPath(_ context.Context, path string) (*store.PermissionNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.Path == path {
			c := n
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GrantNode(_ context.Context, g store.NodeGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[g.NodeID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.users[g.UserID]; !ok {
		return store.ErrNotFound
	}
	g.NodePath = node.Path
	for id, existing := range s.grants {
		if existing.UserID == g.UserID && existing.NodeID == g.NodeID && existing.Permission == g.Permission {
			g.ID = id
			s.grants[id] = g
			return nil
		}
	}
	s.grants[g.ID] = g
	return nil
}

func (s *Store) RevokeNode(_ context.Context, userID, nodeID, permission string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, g := range s.grants {
		if g.UserID == userID && g.NodeID == nodeID && g.Permission == permission {
			delete(s.grants, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ActiveNodeGrants(_ context.Context, userID, nodePath string, now time.Time) ([]store.NodeGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.NodeGrant
	for _, g := range s.grants {
		if g.UserID != userID || g.NodePath != nodePath {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

/*
====================================
TOKENS
====================================
*/

func (s *Store) ReplaceToken(_ context.Context, t store.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[t.UserID]; !ok {
		return store.ErrNotFound
	}
	s.tokens[tokenKey{userID: t.UserID, purpose: t.Purpose}] = t
	return nil
}

func (s *Store) ConsumeToken(_ context.Context, purpose store.TokenPurpose, hash string) (*store.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, t := range s.tokens {
		if k.purpose == purpose && t.Hash == hash {
			delete(s.tokens, k)
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteUserTokens(_ context.Context, userID string, purpose store.TokenPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenKey{userID: userID, purpose: purpose})
	return nil
}

/*
====================================
ACTIVITY
====================================
*/

func (s *Store) InsertActivity(_ context.Context, e store.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activity = append(s.activity, e)
	return nil
}

func (s *Store) QueryActivity(_ context.Context, q store.Query) ([]store.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ActivityEntry
	for i := len(s.activity) - 1; i >= 0; i-- {
		e := s.activity[i]
		ok, err := matchActivity(&e, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, q), nil
}

func (s *Store) PruneActivity(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.activity[:0]
	var n int64
	for _, e := range s.activity {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.activity = kept
	return n, nil
}

/*
====================================
CONFIG VALUES
====================================
*/

func (s *Store) ConfigValue(_ context.Context, key string) (*store.ConfigValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.config[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	v.Value = slices.Clone(v.Value)
	return &v, nil
}

func (s *Store) PutConfigValue(_ context.Context, v store.ConfigValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.Value = slices.Clone(v.Value)
	s.config[v.Key] = v
	return nil
}

func (s *Store) DeleteConfigValue(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.config, key)
	return nil
}

func (s *Store) ListConfigValues(_ context.Context) ([]store.ConfigValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.ConfigValue, 0, len(s.config))
	for _, v := range s.config {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func page[T any](items []T, q store.Query) []T {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}
