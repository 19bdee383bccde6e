package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/middleware"
)

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type codeBody struct {
	Code string `json:"code"`
}

type passwordBody struct {
	CurrentPassword string `json:"currentPassword"`
}

/* ==================== SIGNED OUT ==================== */

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "login", err)
		return
	}
	s.writeOutcome(w, r, s.engine.Login(r.Context(), panelauth.LoginRequest{
		Username: body.Username,
		Password: body.Password,
	}))
}

func (s *Server) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "verify_2fa", err)
		return
	}
	s.writeOutcome(w, r, s.engine.VerifyTwoFactorLogin(r.Context(), s.transport.PendingToken(r), body.Code))
}

func (s *Server) verifyBackupCode(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "verify_backup_code", err)
		return
	}
	s.writeOutcome(w, r, s.engine.VerifyBackupCodeLogin(r.Context(), s.transport.PendingToken(r), body.Code))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "register", err)
		return
	}
	s.writeOutcome(w, r, s.engine.Register(r.Context(), panelauth.RegisterRequest(body)))
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "forgot_password", err)
		return
	}
	s.writeOutcome(w, r, s.engine.RequestPasswordReset(r.Context(), body.Email))
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token           string `json:"token"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "reset_password", err)
		return
	}
	if body.Token == "" {
		body.Token = r.URL.Query().Get("token")
	}
	s.writeOutcome(w, r, s.engine.ResetPassword(r.Context(), panelauth.ResetPasswordRequest(body)))
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	s.writeOutcome(w, r, s.engine.VerifyEmail(r.Context(), r.URL.Query().Get("token")))
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "resend_verification", err)
		return
	}
	s.writeOutcome(w, r, s.engine.ResendVerification(r.Context(), body.Email))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.AuthFromContext(r.Context())
	s.writeOutcome(w, r, s.engine.Logout(r.Context(), actor))
}

/* ==================== PROFILE ==================== */

// actor is only called behind RequireSession.
func actor(r *http.Request) *panelauth.AuthContext {
	a, _ := middleware.AuthFromContext(r.Context())
	return a
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        newUserView(a.User),
		"permissions": a.Permissions.Sorted(),
		"sessionId":   a.SessionID(),
	})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username  string `json:"username"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "update_profile", err)
		return
	}
	u, err := s.engine.UpdateProfile(r.Context(), actor(r), panelauth.UpdateProfileRequest(body))
	if err != nil {
		s.writeError(w, r, "update_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserView(u)})
}

func (s *Server) changeEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewEmail        string `json:"newEmail"`
		CurrentPassword string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "change_email", err)
		return
	}
	s.writeOutcome(w, r, s.engine.ChangeEmail(r.Context(), actor(r), panelauth.ChangeEmailRequest(body)))
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "change_password", err)
		return
	}
	s.writeOutcome(w, r, s.engine.ChangePassword(r.Context(), actor(r), panelauth.ChangePasswordRequest(body)))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.ListSessions(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "list_sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": newSessionViews(sessions)})
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeSession(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, "revoke_session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.RevokeOtherSessions(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "revoke_other_sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": n})
}

func (s *Server) myActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.MyActivity(r.Context(), actor(r), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, r, "my_activity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": newActivityViews(entries)})
}

func (s *Server) sendVerification(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SendVerificationEmail(r.Context(), actor(r)); err != nil {
		s.writeError(w, r, "send_verification", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "delete_account", err)
		return
	}
	s.writeOutcome(w, r, s.engine.DeleteAccount(r.Context(), actor(r), body.CurrentPassword))
}

/* ==================== TWO-FACTOR ENROLLMENT ==================== */

func setupBody(setup *panelauth.TwoFactorSetup) map[string]any {
	return map[string]any{
		"secret": setup.Secret,
		"uri":    setup.URI,
		"qrCode": setup.QRCodeData,
	}
}

func (s *Server) beginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "begin_2fa", err)
		return
	}
	setup, err := s.engine.BeginTwoFactorSetup(r.Context(), actor(r), body.CurrentPassword)
	if err != nil {
		s.writeError(w, r, "begin_2fa", err)
		return
	}
	writeJSON(w, http.StatusOK, setupBody(setup))
}

func (s *Server) twoFactorProvisioning(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.TwoFactorProvisioning(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "provision_2fa", err)
		return
	}
	writeJSON(w, http.StatusOK, setupBody(setup))
}

func (s *Server) confirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "confirm_2fa", err)
		return
	}
	codes, err := s.engine.ConfirmTwoFactor(r.Context(), actor(r), body.Code)
	if err != nil {
		s.writeError(w, r, "confirm_2fa", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "backupCodes": codes})
}

func (s *Server) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "disable_2fa", err)
		return
	}
	if err := s.engine.DisableTwoFactor(r.Context(), actor(r), body.CurrentPassword); err != nil {
		s.writeError(w, r, "disable_2fa", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) backupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.BackupCodesRemaining(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, "backup_codes_remaining", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"remaining": n})
}

func (s *Server) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, "regenerate_backup_codes", err)
		return
	}
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), actor(r), body.CurrentPassword)
	if err != nil {
		s.writeError(w, r, "regenerate_backup_codes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}
