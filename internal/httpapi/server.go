// Package httpapi exposes the Engine as a JSON-over-HTTP API routed with
// gorilla/mux. Handlers decode a request, call one Engine operation and
// interpret its Outcome or error; they make no authentication decisions
// of their own.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/middleware"
	"github.com/MrEthical07/panelauth/permission"
)

// Options configures a Server. Zero values are usable.
type Options struct {
	Transport *middleware.CookieTransport
	Logger    logging.Logger
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

// Server is an http.Handler serving the panel API.
type Server struct {
	engine    *panelauth.Engine
	transport *middleware.CookieTransport
	log       logging.Logger
	router    *mux.Router
}

func New(engine *panelauth.Engine, opts Options) *Server {
	s := &Server{
		engine:    engine,
		transport: opts.Transport,
		log:       logging.OrNop(opts.Logger),
	}
	if s.transport == nil {
		s.transport = &middleware.CookieTransport{}
	}
	s.router = s.routes(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) *mux.Router {
	paths := s.engine.Config().Routes

	r := mux.NewRouter()
	r.Use(middleware.ClientInfo(opts.TrustProxy), s.throttle, middleware.LoadSession(s.engine, s.transport))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, panelauth.Failure{Kind: panelauth.FailureNotFound, Status: http.StatusNotFound, Message: "Not found"})
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	// -------- SIGNED OUT --------
	r.HandleFunc(paths.Login, s.login).Methods(http.MethodPost)
	r.HandleFunc(paths.TwoFactor, s.verifyTwoFactor).Methods(http.MethodPost)
	r.HandleFunc(paths.TwoFactor+"/backup", s.verifyBackupCode).Methods(http.MethodPost)
	r.HandleFunc("/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/forgot-password", s.forgotPassword).Methods(http.MethodPost)
	r.HandleFunc(paths.ResetPassword, s.resetPassword).Methods(http.MethodPost)
	r.HandleFunc(paths.VerifyEmail, s.verifyEmail).Methods(http.MethodGet)
	r.HandleFunc("/resend-verification", s.resendVerification).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	// -------- SIGNED IN --------
	panel := r.PathPrefix(paths.Home).Subrouter()
	panel.Use(middleware.RequireSession(paths.Login))

	panel.HandleFunc("/profile", s.profile).Methods(http.MethodGet)
	panel.HandleFunc("/profile", s.updateProfile).Methods(http.MethodPut)
	panel.HandleFunc("/profile/email", s.changeEmail).Methods(http.MethodPost)
	panel.HandleFunc("/profile/password", s.changePassword).Methods(http.MethodPost)
	panel.HandleFunc("/profile/sessions", s.listSessions).Methods(http.MethodGet)
	panel.HandleFunc("/profile/sessions/revoke-others", s.revokeOtherSessions).Methods(http.MethodPost)
	panel.HandleFunc("/profile/sessions/{id}", s.revokeSession).Methods(http.MethodDelete)
	panel.HandleFunc("/profile/activity", s.myActivity).Methods(http.MethodGet)
	panel.HandleFunc("/profile/email/verify", s.sendVerification).Methods(http.MethodPost)
	panel.HandleFunc("/profile/danger/delete", s.deleteAccount).Methods(http.MethodPost)

	panel.HandleFunc("/profile/security/2fa/setup", s.beginTwoFactor).Methods(http.MethodPost)
	panel.HandleFunc("/profile/security/2fa/setup", s.twoFactorProvisioning).Methods(http.MethodGet)
	panel.HandleFunc("/profile/security/2fa/confirm", s.confirmTwoFactor).Methods(http.MethodPost)
	panel.HandleFunc("/profile/security/2fa/disable", s.disableTwoFactor).Methods(http.MethodPost)
	panel.HandleFunc("/profile/security/2fa/backup-codes", s.backupCodesRemaining).Methods(http.MethodGet)
	panel.HandleFunc("/profile/security/2fa/backup-codes", s.regenerateBackupCodes).Methods(http.MethodPost)

	// -------- ADMINISTRATION --------
	// The Engine re-checks the exact permission of every operation; the
	// guard only keeps callers without any admin permission out.
	admin := panel.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequirePermission(s.engine.Permissions(), paths.Login,
		permission.ManageUsers, permission.ManageRoles, permission.ViewLogs,
		permission.ViewConfig, permission.EditConfig))

	admin.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.updateUser).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/lock", s.lockUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unlock", s.unlockUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/disable", s.disableUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/enable", s.enableUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/roles", s.userRoles).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/roles", s.assignRole).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/roles/{roleId}", s.removeRole).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/nodes", s.grantNode).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/nodes", s.revokeNode).Methods(http.MethodDelete)
	admin.HandleFunc("/locked-accounts", s.lockedAccounts).Methods(http.MethodGet)

	admin.HandleFunc("/roles", s.listRoles).Methods(http.MethodGet)
	admin.HandleFunc("/roles", s.createRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id}", s.updateRole).Methods(http.MethodPut)
	admin.HandleFunc("/roles/{id}", s.deleteRole).Methods(http.MethodDelete)
	admin.HandleFunc("/nodes", s.createNode).Methods(http.MethodPost)

	admin.HandleFunc("/activity", s.activityLog).Methods(http.MethodGet)
	admin.HandleFunc("/config", s.configDefinitions).Methods(http.MethodGet)
	admin.HandleFunc("/config/{key}", s.setConfig).Methods(http.MethodPut)
	admin.HandleFunc("/config/{key}", s.resetConfig).Methods(http.MethodDelete)

	return r
}

// throttle applies the general per-address request limit to every route
// except the probes.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			if err := s.engine.ThrottleRequest(r.Context()); err != nil {
				s.writeError(w, r, "api_request", err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
