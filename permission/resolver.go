package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

// System role names created by the seed.
const (
	RoleSuperAdmin = "super-admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

var (
	ErrUnavailable     = errors.New("permission: store unavailable")
	ErrRoleNotFound    = errors.New("permission: role not found")
	ErrUserNotFound    = errors.New("permission: user not found")
	ErrNodeNotFound    = errors.New("permission: node not found")
	ErrRoleExists      = errors.New("permission: role already exists")
	ErrNodeExists      = errors.New("permission: node already exists")
	ErrInvalidRole     = errors.New("permission: invalid role")
	ErrInvalidNode     = errors.New("permission: invalid node path")
	ErrSystemRole      = errors.New("permission: system role cannot be modified")
	ErrRoleInUse       = errors.New("permission: role is assigned to users")
	ErrAlreadyAssigned = errors.New("permission: role already assigned")
)

// Set is a resolved permission set.
type Set map[string]struct{}

// NewSet builds a Set from perms.
func NewSet(perms ...string) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// IsAdmin reports whether the set carries the universal override.
func (s Set) IsAdmin() bool {
	_, ok := s[Admin]
	return ok
}

// Has reports whether perm is granted.
func (s Set) Has(perm string) bool {
	if s.IsAdmin() {
		return true
	}
	_, ok := s[perm]
	return ok
}

// HasAny reports whether at least one of perms is granted.
func (s Set) HasAny(perms ...string) bool {
	if s.IsAdmin() {
		return true
	}
	for _, p := range perms {
		if _, ok := s[p]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether every perm is granted. An empty list is
// satisfied.
func (s Set) HasAll(perms ...string) bool {
	if s.IsAdmin() {
		return true
	}
	for _, p := range perms {
		if _, ok := s[p]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the permissions in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolver answers permission checks and performs role mutations against
// the store.
type Resolver struct {
	roles   store.Roles
	catalog *Catalog
	now     func() time.Time
}

// NewResolver creates a Resolver. A nil catalog disables permission name
// validation on role edits.
func NewResolver(roles store.Roles, catalog *Catalog) *Resolver {
	return &Resolver{roles: roles, catalog: catalog, now: time.Now}
}

// SetClock overrides the time source used for grant expiry and
// timestamps.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Catalog returns the permission catalog, possibly nil.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the union of the permissions of every role userID holds.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Set, error) {
	assignments, err := r.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	set := make(Set)
	for _, a := range assignments {
		for _, p := range a.Role.Permissions {
			set[p] = struct{}{}
		}
	}
	return set, nil
}

// UserPermissions returns the deduplicated permission names of userID,
// sorted.
func (r *Resolver) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

func (r *Resolver) Has(ctx context.Context, userID, perm string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

func (r *Resolver) HasAny(ctx context.Context, userID string, perms ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAny(perms...), nil
}

func (r *Resolver) HasAll(ctx context.Context, userID string, perms ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAll(perms...), nil
}

// HasNodePermission checks the global set first and then the unexpired
// grants of userID on nodePath.
func (r *Resolver) HasNodePermission(ctx context.Context, userID, nodePath, perm string) (bool, error) {
	ok, err := r.Has(ctx, userID, perm)
	if err != nil || ok {
		return ok, err
	}

	grants, err := r.roles.ActiveNodeGrants(ctx, userID, normalizePath(nodePath), r.now())
	if err != nil {
		return false, unavailable(err)
	}
	for _, g := range grants {
		if g.Permission == perm {
			return true, nil
		}
	}
	return false, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
