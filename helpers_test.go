package panelauth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/store/memory"
)

const (
	testPassword = "Correct-horse1"
	testClientIP = "203.0.113.7"
)

var tokenInLink = regexp.MustCompile(`token=([a-z2-7]+)`)

type fixture struct {
	t      *testing.T
	engine *Engine
	store  *memory.Store
	outbox *mail.Outbox
	redis  *miniredis.Miniredis
	now    time.Time
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		store:  memory.New(),
		outbox: mail.NewOutbox(),
		redis:  miniredis.RunT(t),
		now:    time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	rdb := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := validTestConfig()
	cfg.BaseURL = "https://panel.example.com"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	for _, m := range mutate {
		m(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithStore(f.store).
		WithRedis(rdb).
		WithMailer(f.outbox).
		WithClock(func() time.Time { return f.now }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	f.engine = engine

	f.seedRoles()
	return f
}

func (f *fixture) ctx() context.Context {
	return WithUserAgent(WithClientIP(context.Background(), testClientIP), "fixture/1.0")
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) seedRoles() {
	f.t.Helper()
	roles := []store.Role{
		{Name: permission.RoleSuperAdmin, Permissions: []string{permission.Admin}},
		{Name: permission.RoleAdmin, Permissions: []string{
			permission.ManageUsers, permission.ManageRoles, permission.ViewLogs,
			permission.ViewConfig, permission.EditConfig, permission.Read, permission.Write,
		}},
		{Name: permission.RoleUser, Permissions: []string{permission.Read}},
	}
	for _, r := range roles {
		r.ID = uuid.NewString()
		r.IsSystemRole = true
		r.CreatedAt = f.now
		r.UpdatedAt = f.now
		if err := f.store.CreateRole(context.Background(), r); err != nil {
			f.t.Fatalf("seed role %s: %v", r.Name, err)
		}
	}
}

// createUser stores a verified user whose password is testPassword.
func (f *fixture) createUser(username string, opts ...func(*store.User)) *store.User {
	f.t.Helper()
	hash, err := f.engine.PasswordHasher().Hash(testPassword)
	if err != nil {
		f.t.Fatalf("hash: %v", err)
	}
	u := &store.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	for _, o := range opts {
		o(u)
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) grantRole(userID, roleName string) {
	f.t.Helper()
	role, err := f.store.RoleByName(context.Background(), roleName)
	if err != nil {
		f.t.Fatalf("role %s: %v", roleName, err)
	}
	err = f.store.AssignRole(context.Background(), store.UserRole{UserID: userID, RoleID: role.ID, AssignedAt: f.now})
	if err != nil {
		f.t.Fatalf("assign %s: %v", roleName, err)
	}
}

// enableTwoFactor enrolls u directly in the store and returns the secret
// and the plaintext backup codes.
func (f *fixture) enableTwoFactor(u *store.User) (string, []string) {
	f.t.Helper()
	secret, err := f.engine.twoFactor.GenerateSecret(u.Username)
	if err != nil {
		f.t.Fatalf("secret: %v", err)
	}
	codes, hashes, err := f.engine.newBackupCodes(context.Background())
	if err != nil {
		f.t.Fatalf("backup codes: %v", err)
	}
	st := store.TwoFactorState{Secret: secret, Enabled: true, BackupCodes: hashes}
	if err := f.store.SetTwoFactor(context.Background(), u.ID, st, f.now); err != nil {
		f.t.Fatalf("set two-factor: %v", err)
	}
	return secret, codes
}

func (f *fixture) user(id string) *store.User {
	f.t.Helper()
	u, err := f.store.UserByID(context.Background(), id)
	if err != nil {
		f.t.Fatalf("user %s: %v", id, err)
	}
	return u
}

func (f *fixture) login(username, pw string) Outcome {
	return f.engine.Login(f.ctx(), LoginRequest{Username: username, Password: pw})
}

// signIn logs in with testPassword and returns the validated caller.
func (f *fixture) signIn(username string) *AuthContext {
	f.t.Helper()
	out := f.login(username, testPassword)
	if out.Session == nil {
		f.t.Fatalf("login %s: expected session, got %+v (failure %+v)", username, out, out.Failure)
	}
	return f.validate(out.Session.Token)
}

func (f *fixture) validate(raw string) *AuthContext {
	f.t.Helper()
	actor, err := f.engine.ValidateSession(f.ctx(), raw)
	if err != nil {
		f.t.Fatalf("ValidateSession: %v", err)
	}
	return actor
}

// lastToken extracts the token from the newest message sent to addr.
func (f *fixture) lastToken(addr string) string {
	f.t.Helper()
	msgs := f.outbox.To(addr)
	if len(msgs) == 0 {
		f.t.Fatalf("no mail to %s", addr)
	}
	m := tokenInLink.FindStringSubmatch(msgs[len(msgs)-1].Text)
	if m == nil {
		f.t.Fatalf("no token in mail to %s", addr)
	}
	return m[1]
}

func (f *fixture) activity(action string) []store.ActivityEntry {
	f.t.Helper()
	rows, err := f.store.QueryActivity(context.Background(), store.Where(store.Eq(store.FieldAction, action)))
	if err != nil {
		f.t.Fatalf("activity: %v", err)
	}
	return rows
}

func requireFailure(t *testing.T, out Outcome, kind FailureKind) *Failure {
	t.Helper()
	if out.Kind != OutcomeError || out.Failure == nil {
		t.Fatalf("expected %s failure, got %s %+v", kind, out.Kind, out)
	}
	if out.Failure.Kind != kind {
		t.Fatalf("expected %s failure, got %s: %s", kind, out.Failure.Kind, out.Failure.Message)
	}
	return out.Failure
}
