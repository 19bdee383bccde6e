// Package bootstrap seeds a fresh database with the system roles and a
// first administrator. Every step is idempotent: existing roles and
// users are left as they are.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
)

// Store is the part of store.Store the seed writes to.
type Store interface {
	store.Users
	store.Roles
}

// Hasher hashes the administrator password. *password.Argon2 satisfies it.
type Hasher interface {
	Hash(secret string) (string, error)
}

// SystemRole is a role created at bootstrap and protected from deletion.
type SystemRole struct {
	Name        string
	Description string
	Permissions []string
}

// SystemRoles returns the roles every installation starts with.
func SystemRoles() []SystemRole {
	return []SystemRole{
		{
			Name:        permission.RoleSuperAdmin,
			Description: "Full system access",
			Permissions: []string{
				permission.Admin, permission.ManageUsers, permission.ManageRoles,
				permission.ViewLogs, permission.ViewConfig, permission.EditConfig,
			},
		},
		{
			Name:        permission.RoleAdmin,
			Description: "Administrative access",
			Permissions: []string{
				permission.ManageUsers, permission.ManageRoles,
				permission.ViewLogs, permission.ViewConfig,
			},
		},
		{
			Name:        permission.RoleUser,
			Description: "Standard user access",
			Permissions: []string{permission.Read},
		},
	}
}

// AdminOptions describes the first administrator.
type AdminOptions struct {
	Username string
	Email    string
	// Password is generated when empty; the generated value is returned
	// in Result.
	Password string
	Roles    []string
}

// Result reports what a seed run changed.
type Result struct {
	RolesCreated      []string
	AdminCreated      bool
	AdminUsername     string
	GeneratedPassword string
}

// Seeder runs the bootstrap steps.
type Seeder struct {
	store  Store
	hasher Hasher
	log    logging.Logger
	now    func() time.Time
}

func New(s Store, h Hasher, log logging.Logger) *Seeder {
	return &Seeder{store: s, hasher: h, log: logging.OrNop(log), now: time.Now}
}

// SetClock overrides the time source.
func (s *Seeder) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// DefaultAdmin is the administrator created by Run when no options are
// given.
func DefaultAdmin() AdminOptions {
	return AdminOptions{
		Username: "admin",
		Email:    "admin@example.com",
		Roles:    []string{permission.RoleAdmin, permission.RoleSuperAdmin},
	}
}

// Run seeds the system roles and then the administrator.
func (s *Seeder) Run(ctx context.Context, admin AdminOptions) (Result, error) {
	var res Result
	created, err := s.SeedSystemRoles(ctx)
	if err != nil {
		return res, err
	}
	res.RolesCreated = created

	generated, ok, err := s.SeedAdmin(ctx, admin)
	if err != nil {
		return res, err
	}
	res.AdminCreated = ok
	res.AdminUsername = admin.Username
	res.GeneratedPassword = generated
	return res, nil
}

// SeedSystemRoles creates the missing system roles and returns their names.
func (s *Seeder) SeedSystemRoles(ctx context.Context) ([]string, error) {
	var created []string
	now := s.now().UTC()
	for _, r := range SystemRoles() {
		_, err := s.store.RoleByName(ctx, r.Name)
		if err == nil {
			s.log.Info(ctx, "role exists", "role", r.Name)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("lookup role %s: %w", r.Name, err)
		}

		err = s.store.CreateRole(ctx, store.Role{
			ID:           uuid.NewString(),
			Name:         r.Name,
			Description:  r.Description,
			Permissions:  append([]string(nil), r.Permissions...),
			IsSystemRole: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		switch {
		case errors.Is(err, store.ErrConflict):
			continue
		case err != nil:
			return created, fmt.Errorf("create role %s: %w", r.Name, err)
		}
		s.log.Info(ctx, "role created", "role", r.Name)
		created = append(created, r.Name)
	}
	return created, nil
}

// SeedAdmin creates the administrator only when the database has no users
// at all. The account must change its password on first login. It
// returns the generated password, if any, and whether a user was created.
func (s *Seeder) SeedAdmin(ctx context.Context, opts AdminOptions) (string, bool, error) {
	if opts.Username == "" || opts.Email == "" {
		return "", false, errors.New("admin username and email are required")
	}

	existing, err := s.store.ListUsers(ctx, store.Where().Page(1, 0))
	if err != nil {
		return "", false, fmt.Errorf("count users: %w", err)
	}
	if len(existing) > 0 {
		s.log.Info(ctx, "users exist, admin not created")
		return "", false, nil
	}

	secret, generated := opts.Password, ""
	if secret == "" {
		if secret, err = randomPassword(); err != nil {
			return "", false, err
		}
		generated = secret
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", false, fmt.Errorf("hash admin password: %w", err)
	}

	now := s.now().UTC()
	u := &store.User{
		ID:                    uuid.NewString(),
		Username:              opts.Username,
		Email:                 opts.Email,
		PasswordHash:          hash,
		RequirePasswordChange: true,
		EmailVerified:         true,
		EmailVerifiedAt:       &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return "", false, fmt.Errorf("create admin: %w", err)
	}

	for _, name := range opts.Roles {
		role, err := s.store.RoleByName(ctx, name)
		if err != nil {
			return "", true, fmt.Errorf("lookup role %s: %w", name, err)
		}
		err = s.store.AssignRole(ctx, store.UserRole{UserID: u.ID, RoleID: role.ID, AssignedAt: now})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return "", true, fmt.Errorf("assign role %s: %w", name, err)
		}
	}

	s.log.Info(ctx, "admin created", "username", u.Username, "roles", opts.Roles)
	return generated, true, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	// The suffix keeps generated passwords inside the default policy.
	return base64.RawURLEncoding.EncodeToString(buf) + "-Aa1", nil
}
