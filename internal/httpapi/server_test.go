package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/limiters"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/mail"
	"github.com/MrEthical07/panelauth/middleware"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/store/memory"
)

const testPassword = "Correct-horse1"

type harness struct {
	t      *testing.T
	engine *panelauth.Engine
	store  *memory.Store
	outbox *mail.Outbox
	server *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := panelauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.BaseURL = "https://panel.example.com"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	h := &harness{t: t, store: memory.New(), outbox: mail.NewOutbox()}
	engine, err := panelauth.New().
		WithConfig(cfg).
		WithStore(h.store).
		WithRedis(rdb).
		WithMailer(h.outbox).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	h.server = New(engine, Options{Transport: &middleware.CookieTransport{Insecure: true}})

	for _, r := range []store.Role{
		{Name: permission.RoleSuperAdmin, Permissions: []string{permission.Admin}},
		{Name: permission.RoleAdmin, Permissions: []string{
			permission.ManageUsers, permission.ManageRoles, permission.ViewLogs,
			permission.ViewConfig, permission.EditConfig,
		}},
		{Name: permission.RoleUser, Permissions: []string{permission.Read}},
	} {
		r.ID = uuid.NewString()
		r.IsSystemRole = true
		if err := h.store.CreateRole(context.Background(), r); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	return h
}

func (h *harness) user(username, role string) *store.User {
	h.t.Helper()
	hash, err := h.engine.PasswordHasher().Hash(testPassword)
	if err != nil {
		h.t.Fatalf("hash: %v", err)
	}
	now := time.Now().UTC()
	u := &store.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateUser(context.Background(), u); err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	if role != "" {
		r, err := h.store.RoleByName(context.Background(), role)
		if err != nil {
			h.t.Fatalf("role %s: %v", role, err)
		}
		if err := h.store.AssignRole(context.Background(), store.UserRole{UserID: u.ID, RoleID: r.ID, AssignedAt: now}); err != nil {
			h.t.Fatalf("assign: %v", err)
		}
	}
	return u
}

func (h *harness) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

// login signs username in and returns the session cookie.
func (h *harness) login(username string) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/login", `{"username":"`+username+`","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusSeeOther {
		h.t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}
	c := responseCookie(rec, middleware.DefaultSessionCookie)
	if c == nil || c.Value == "" {
		h.t.Fatal("login did not set a session cookie")
	}
	return c
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestLoginAndProfile(t *testing.T) {
	h := newHarness(t)
	h.user("alice", permission.RoleUser)

	rec := h.do(http.MethodPost, "/login", `{"username":"alice","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/panel" {
		t.Fatalf("login: status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
	session := responseCookie(rec, middleware.DefaultSessionCookie)
	if session == nil || !session.HttpOnly {
		t.Fatalf("unexpected session cookie %+v", session)
	}

	rec = h.do(http.MethodGet, "/panel/profile", "", session)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "PasswordHash") || strings.Contains(rec.Body.String(), "argon2id") {
		t.Fatalf("profile leaked credentials: %s", rec.Body.String())
	}
	body := decodeBody(t, rec)
	user, _ := body["user"].(map[string]any)
	if user["username"] != "alice" {
		t.Fatalf("profile user = %v", body["user"])
	}
}

func TestLoginFailureIsJSON(t *testing.T) {
	h := newHarness(t)
	h.user("alice", "")

	rec := h.do(http.MethodPost, "/login", `{"username":"alice","password":"Wrong-horse1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["kind"] != "authentication" || body["error"] != "Incorrect username or password" {
		t.Fatalf("unexpected failure body %v", body)
	}
	if responseCookie(rec, middleware.DefaultSessionCookie) != nil {
		t.Fatal("failed login must not set a session cookie")
	}
}

func TestInvalidBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/login", `{"username":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["kind"] != "validation" {
		t.Fatalf("kind = %v", body["kind"])
	}
}

func TestLoginRateLimitSetsRetryAfter(t *testing.T) {
	h := newHarness(t)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 21; i++ {
		rec = h.do(http.MethodPost, "/login", `{"username":"ghost`+string(rune('a'+i))+`","password":"Wrong-horse1"}`)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if body := decodeBody(t, rec); body["kind"] != "rate_limited" {
		t.Fatalf("kind = %v", body["kind"])
	}
}

func TestGeneralRequestLimitPerAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Settings().Set(ctx, rate.SettingKey(rate.ActionAPIGeneral, "max_attempts"), 3, "test"); err != nil {
		t.Fatalf("set limit: %v", err)
	}

	for i := 0; i < 3; i++ {
		if rec := h.do(http.MethodGet, "/panel/profile", ""); rec.Code != http.StatusFound {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := h.do(http.MethodGet, "/panel/profile", "")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}

	if rec := h.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz throttled: %d", rec.Code)
	}
}

func TestPanelRequiresSession(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/panel/profile", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}

	stale := &http.Cookie{Name: middleware.DefaultSessionCookie, Value: "not-a-session"}
	rec = h.do(http.MethodGet, "/panel/profile", "", stale)
	if rec.Code != http.StatusFound {
		t.Fatalf("stale cookie status = %d", rec.Code)
	}
	if c := responseCookie(rec, middleware.DefaultSessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("stale cookie not cleared: %+v", c)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	h.user("alice", permission.RoleUser)
	session := h.login("alice")

	rec := h.do(http.MethodPost, "/logout", "", session)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("logout: status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
	if c := responseCookie(rec, middleware.DefaultSessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("session cookie not cleared: %+v", c)
	}
	var n int
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.DefaultSessionCookie {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("logout wrote %d session cookies: %v", n, rec.Header().Values("Set-Cookie"))
	}

	if rec = h.do(http.MethodGet, "/panel/profile", "", session); rec.Code != http.StatusFound {
		t.Fatalf("revoked session still admitted: %d", rec.Code)
	}
}

func TestAdminRoutesArePermissionGuarded(t *testing.T) {
	h := newHarness(t)
	h.user("alice", permission.RoleUser)
	h.user("root", permission.RoleAdmin)

	rec := h.do(http.MethodGet, "/panel/admin/users", "", h.login("alice"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user status = %d", rec.Code)
	}

	rec = h.do(http.MethodGet, "/panel/admin/users?search=ali", "", h.login("root"))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d body=%s", rec.Code, rec.Body.String())
	}
	users, _ := decodeBody(t, rec)["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("users = %v", users)
	}
}

func TestAdminConfigRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.user("root", permission.RoleAdmin)
	session := h.login("root")

	rec := h.do(http.MethodGet, "/panel/admin/config", "", session)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), limiters.SettingMaxFailedAttempts) {
		t.Fatal("listing is missing the lockout threshold")
	}

	rec = h.do(http.MethodPut, "/panel/admin/config/"+limiters.SettingMaxFailedAttempts, `{"value":3}`, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d body=%s", rec.Code, rec.Body.String())
	}
	n, err := h.engine.Settings().Int(context.Background(), limiters.SettingMaxFailedAttempts)
	if err != nil || n != 3 {
		t.Fatalf("setting = %d, %v", n, err)
	}

	rec = h.do(http.MethodPut, "/panel/admin/config/no.such.key", `{"value":1}`, session)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key status = %d", rec.Code)
	}

	rec = h.do(http.MethodDelete, "/panel/admin/config/"+limiters.SettingMaxFailedAttempts, "", session)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if n, _ := h.engine.Settings().Int(context.Background(), limiters.SettingMaxFailedAttempts); n != 5 {
		t.Fatalf("after reset = %d", n)
	}
}

func TestAdminCreateUserHidesSecrets(t *testing.T) {
	h := newHarness(t)
	h.user("root", permission.RoleAdmin)

	rec := h.do(http.MethodPost, "/panel/admin/users",
		`{"username":"bob","email":"bob@example.com","password":"`+testPassword+`","roles":["user"]}`,
		h.login("root"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "argon2id") {
		t.Fatalf("response leaked the password hash: %s", rec.Body.String())
	}
}

func TestAdminUpdateUser(t *testing.T) {
	h := newHarness(t)
	h.user("root", permission.RoleAdmin)
	target := h.user("bob", permission.RoleUser)
	h.user("carol", permission.RoleUser)
	root := h.login("root")

	rec := h.do(http.MethodPut, "/panel/admin/users/"+target.ID,
		`{"username":"carol","email":"bob@example.com","firstName":"Bob","lastName":"Smith"}`, root)
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodPut, "/panel/admin/users/"+target.ID,
		`{"username":"robert","email":"robert@example.com","firstName":"Bob","lastName":"Smith","requirePasswordChange":true}`, root)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	user, _ := decodeBody(t, rec)["user"].(map[string]any)
	if user["username"] != "robert" || user["requirePasswordChange"] != true {
		t.Fatalf("user = %v", user)
	}
}

func TestProfileUpdateAndEmailChange(t *testing.T) {
	h := newHarness(t)
	u := h.user("alice", permission.RoleUser)
	session := h.login("alice")

	rec := h.do(http.MethodPut, "/panel/profile", `{"username":"alicia","firstName":"Alice","lastName":"Smith"}`, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodPost, "/panel/profile/email", `{"newEmail":"alice@new.example.com","password":"Wrong-horse1"}`, session)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong password status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodPost, "/panel/profile/email", `{"newEmail":"alice@new.example.com","password":"`+testPassword+`"}`, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("email status = %d body=%s", rec.Code, rec.Body.String())
	}

	stored, err := h.store.UserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if stored.Username != "alicia" || stored.Email != "alice@new.example.com" {
		t.Fatalf("stored user %+v", stored)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["kind"] != "not_found" {
		t.Fatalf("kind = %v", body["kind"])
	}
}
