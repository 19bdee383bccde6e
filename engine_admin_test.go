package panelauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/internal/limiters"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/runtimecfg"
)

func (f *fixture) adminActor(username, role string) *AuthContext {
	f.t.Helper()
	u := f.createUser(username)
	f.grantRole(u.ID, role)
	return f.signIn(username)
}

func TestAdminOperationsRequirePermission(t *testing.T) {
	f := newFixture(t)
	plain := f.adminActor("plain", permission.RoleUser)
	ctx := f.ctx()

	if _, err := f.engine.ListUsers(ctx, plain, "", 0, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("ListUsers: %v", err)
	}
	if _, err := f.engine.Roles(ctx, plain); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Roles: %v", err)
	}
	if _, err := f.engine.ActivityLog(ctx, plain, ActivityFilter{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("ActivityLog: %v", err)
	}
	if err := f.engine.SetConfig(ctx, plain, SettingRegistrationEnabled, false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("SetConfig: %v", err)
	}
	if _, err := f.engine.ListUsers(ctx, nil, "", 0, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil actor: %v", err)
	}

	if got := len(f.activity(auditAuthzDenied)); got != 4 {
		t.Fatalf("expected 4 audited denials, got %d", got)
	}
}

func TestAdminPermissionsAreReResolved(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)

	if _, err := f.engine.ListUsers(f.ctx(), admin, "", 0, 0); err != nil {
		t.Fatalf("ListUsers: %v", err)
	}

	role, err := f.store.RoleByName(context.Background(), permission.RoleAdmin)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if _, err := f.store.RemoveRole(context.Background(), admin.User.ID, role.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// The AuthContext still lists manage_users, the store no longer does.
	if !admin.Has(permission.ManageUsers) {
		t.Fatal("fixture precondition")
	}
	if _, err := f.engine.ListUsers(f.ctx(), admin, "", 0, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected revoked role to take effect, got %v", err)
	}
}

func TestAdminUserLifecycle(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)
	ctx := f.ctx()

	u, err := f.engine.CreateUser(ctx, admin, CreateUserRequest{
		Username:              "Staff",
		Email:                 "staff@example.com",
		Password:              testPassword,
		RequirePasswordChange: true,
		EmailVerified:         true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	stored := f.user(u.ID)
	if stored.Username != "staff" || !stored.RequirePasswordChange || !stored.EmailVerified {
		t.Fatalf("unexpected stored user %+v", stored)
	}
	roles, err := f.engine.UserRoles(ctx, admin, u.ID)
	if err != nil || len(roles) != 1 || roles[0].Name != permission.RoleUser {
		t.Fatalf("UserRoles = %+v, %v", roles, err)
	}

	if _, err := f.engine.CreateUser(ctx, admin, CreateUserRequest{
		Username: "boss", Email: "boss@example.com", Password: testPassword,
		Roles: []string{permission.RoleSuperAdmin},
	}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("granting super-admin without admin: %v", err)
	}

	users, err := f.engine.ListUsers(ctx, admin, "sta", 10, 0)
	if err != nil || len(users) != 1 || users[0].ID != u.ID {
		t.Fatalf("ListUsers search = %+v, %v", users, err)
	}

	staff := f.signIn("staff")

	until, err := f.engine.LockAccount(ctx, admin, u.ID, false)
	if err != nil || until == nil || !until.Equal(f.now.Add(30*time.Minute)) {
		t.Fatalf("LockAccount = %v, %v", until, err)
	}
	if _, err := f.store.SessionByID(context.Background(), staff.SessionID()); err == nil {
		t.Fatal("lock should end the user's sessions")
	}
	locked, err := f.engine.LockedAccounts(ctx, admin)
	if err != nil || len(locked) != 1 || locked[0].UserID != u.ID || locked[0].Permanent {
		t.Fatalf("LockedAccounts = %+v, %v", locked, err)
	}
	if err := f.engine.UnlockAccount(ctx, admin, u.ID); err != nil {
		t.Fatalf("UnlockAccount: %v", err)
	}
	if f.user(u.ID).IsLocked {
		t.Fatal("still locked")
	}

	if err := f.engine.DisableAccount(ctx, admin, u.ID, "left the company"); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
	got := f.user(u.ID)
	if !got.IsDisabled || got.DisabledBy != admin.User.ID || got.DisableReason != "left the company" {
		t.Fatalf("disable not recorded: %+v", got)
	}
	requireFailure(t, f.login("staff", testPassword), FailureAuthorization)
	if err := f.engine.EnableAccount(ctx, admin, u.ID); err != nil {
		t.Fatalf("EnableAccount: %v", err)
	}

	if err := f.engine.DeleteUser(ctx, admin, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := f.engine.DeleteUser(ctx, admin, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestAdminCannotTargetSelf(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)
	ctx := f.ctx()

	if _, err := f.engine.LockAccount(ctx, admin, admin.User.ID, true); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("LockAccount self: %v", err)
	}
	if err := f.engine.DeleteUser(ctx, admin, admin.User.ID); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("DeleteUser self: %v", err)
	}
	if err := f.engine.DisableAccount(ctx, admin, "", "x"); Classify(err).Kind != FailureValidation {
		t.Fatalf("empty target: %v", err)
	}
}

func TestAdminRoleManagement(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)
	member := f.createUser("member")
	ctx := f.ctx()

	if _, err := f.engine.CreateRole(ctx, admin, "editors", "", nil); Classify(err).Kind != FailureValidation {
		t.Fatalf("empty permissions: %v", err)
	}
	if _, err := f.engine.CreateRole(ctx, admin, "owners", "", []string{permission.Admin}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin override by non-admin: %v", err)
	}
	if _, err := f.engine.CreateRole(ctx, admin, "bogus", "", []string{"fly"}); !errors.Is(err, permission.ErrUnknownPermission) {
		t.Fatalf("unknown permission: %v", err)
	}

	role, err := f.engine.CreateRole(ctx, admin, "editors", "Content editors", []string{permission.Read, permission.Write})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := f.engine.CreateRole(ctx, admin, "editors", "", []string{permission.Read}); !errors.Is(err, permission.ErrRoleExists) {
		t.Fatalf("duplicate role: %v", err)
	}

	if err := f.engine.AssignRole(ctx, admin, member.ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := f.engine.AssignRole(ctx, admin, member.ID, role.ID); !errors.Is(err, permission.ErrAlreadyAssigned) {
		t.Fatalf("duplicate assignment: %v", err)
	}
	if err := f.engine.DeleteRole(ctx, admin, role.ID); !errors.Is(err, permission.ErrRoleInUse) {
		t.Fatalf("delete in-use role: %v", err)
	}

	if err := f.engine.UpdateRole(ctx, admin, role.ID, "Editors", []string{permission.Read, permission.Write, permission.Create}); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	ok, err := f.engine.Permissions().Has(context.Background(), member.ID, permission.Create)
	if err != nil || !ok {
		t.Fatalf("updated role not effective: %v %v", ok, err)
	}

	if err := f.engine.RemoveRole(ctx, admin, member.ID, role.ID); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if err := f.engine.DeleteRole(ctx, admin, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	system, err := f.store.RoleByName(context.Background(), permission.RoleUser)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := f.engine.DeleteRole(ctx, admin, system.ID); !errors.Is(err, permission.ErrSystemRole) {
		t.Fatalf("delete system role: %v", err)
	}
	super, err := f.store.RoleByName(context.Background(), permission.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := f.engine.UpdateRole(ctx, admin, super.ID, "", []string{permission.Read}); !errors.Is(err, permission.ErrSystemRole) {
		t.Fatalf("update super-admin: %v", err)
	}
}

func TestAdminNodeGrants(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)
	member := f.createUser("member")
	ctx := f.ctx()

	if _, err := f.engine.CreatePermissionNode(ctx, admin, "/reports/finance/", "Finance reports"); err != nil {
		t.Fatalf("CreatePermissionNode: %v", err)
	}

	past := f.now.Add(-time.Minute)
	if err := f.engine.GrantNodePermission(ctx, admin, member.ID, "reports/finance", permission.Read, &past); Classify(err).Kind != FailureValidation {
		t.Fatalf("past expiry: %v", err)
	}

	expires := f.now.Add(time.Hour)
	if err := f.engine.GrantNodePermission(ctx, admin, member.ID, "reports/finance", permission.Read, &expires); err != nil {
		t.Fatalf("GrantNodePermission: %v", err)
	}
	resolver := f.engine.Permissions()
	ok, err := resolver.HasNodePermission(context.Background(), member.ID, "reports/finance", permission.Read)
	if err != nil || !ok {
		t.Fatalf("grant not effective: %v %v", ok, err)
	}

	f.advance(2 * time.Hour)
	ok, err = resolver.HasNodePermission(context.Background(), member.ID, "reports/finance", permission.Read)
	if err != nil || ok {
		t.Fatalf("expired grant still effective: %v %v", ok, err)
	}

	revoked, err := f.engine.RevokeNodePermission(ctx, admin, member.ID, "reports/finance", permission.Read)
	if err != nil || !revoked {
		t.Fatalf("RevokeNodePermission = %v, %v", revoked, err)
	}
}

func TestAdminActivityAndConfig(t *testing.T) {
	f := newFixture(t)
	admin := f.adminActor("root", permission.RoleAdmin)
	ctx := f.ctx()

	requireFailure(t, f.login("root", "Wrong-pass1"), FailureAuthentication)

	failed := false
	rows, err := f.engine.ActivityLog(ctx, admin, ActivityFilter{Action: auditLoginFailed, Success: &failed})
	if err != nil || len(rows) != 1 || rows[0].UserID != admin.User.ID {
		t.Fatalf("ActivityLog = %+v, %v", rows, err)
	}
	mine, err := f.engine.MyActivity(ctx, admin, 0, 0)
	if err != nil || len(mine) < 2 {
		t.Fatalf("MyActivity = %d, %v", len(mine), err)
	}

	defs, err := f.engine.ConfigDefinitions(ctx, admin)
	if err != nil || len(defs) == 0 {
		t.Fatalf("ConfigDefinitions = %d, %v", len(defs), err)
	}

	if err := f.engine.SetConfig(ctx, admin, limiters.SettingMaxFailedAttempts, 3); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if n, _ := f.engine.Settings().Int(context.Background(), limiters.SettingMaxFailedAttempts); n != 3 {
		t.Fatalf("setting = %d, want 3", n)
	}
	if err := f.engine.SetConfig(ctx, admin, limiters.SettingMaxFailedAttempts, "lots"); !errors.Is(err, runtimecfg.ErrTypeMismatch) && !errors.Is(err, runtimecfg.ErrInvalidValue) {
		t.Fatalf("invalid value: %v", err)
	}
	if err := f.engine.SetConfig(ctx, admin, "no.such.key", 1); !errors.Is(err, runtimecfg.ErrUnknownKey) {
		t.Fatalf("unknown key: %v", err)
	}
	if err := f.engine.ResetConfig(ctx, admin, limiters.SettingMaxFailedAttempts); err != nil {
		t.Fatalf("ResetConfig: %v", err)
	}
	if n, _ := f.engine.Settings().Int(context.Background(), limiters.SettingMaxFailedAttempts); n != 5 {
		t.Fatalf("setting after reset = %d, want 5", n)
	}
	if len(f.activity(auditConfigUpdate)) != 1 || len(f.activity(auditConfigReset)) != 1 {
		t.Fatal("config changes not audited")
	}
}
