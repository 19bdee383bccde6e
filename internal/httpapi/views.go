package httpapi

import (
	"time"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/store"
)

// userView is the public shape of a store.User. Credentials, the TOTP
// secret and backup-code hashes never leave the server.
type userView struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	FirstName             string     `json:"firstName,omitempty"`
	LastName              string     `json:"lastName,omitempty"`
	TwoFactorEnabled      bool       `json:"twoFactorEnabled"`
	EmailVerified         bool       `json:"emailVerified"`
	RequirePasswordChange bool       `json:"requirePasswordChange"`
	IsLocked              bool       `json:"isLocked"`
	LockedUntil           *time.Time `json:"lockedUntil,omitempty"`
	IsDisabled            bool       `json:"isDisabled"`
	DisableReason         string     `json:"disableReason,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

func newUserView(u *store.User) userView {
	return userView{
		ID:                    u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		TwoFactorEnabled:      u.TwoFactorEnabled,
		EmailVerified:         u.EmailVerified,
		RequirePasswordChange: u.RequirePasswordChange,
		IsLocked:              u.IsLocked,
		LockedUntil:           u.LockedUntil,
		IsDisabled:            u.IsDisabled,
		DisableReason:         u.DisableReason,
		CreatedAt:             u.CreatedAt,
	}
}

func newUserViews(users []store.User) []userView {
	out := make([]userView, 0, len(users))
	for i := range users {
		out = append(out, newUserView(&users[i]))
	}
	return out
}

type sessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

func newSessionViews(in []panelauth.SessionInfo) []sessionView {
	out := make([]sessionView, 0, len(in))
	for _, s := range in {
		out = append(out, sessionView(s))
	}
	return out
}

type roleView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	System      bool      `json:"system"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newRoleView(r store.Role) roleView {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleView{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: perms,
		System:      r.IsSystemRole,
		UpdatedAt:   r.UpdatedAt,
	}
}

type activityView struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Action       string         `json:"action"`
	Category     string         `json:"category"`
	Severity     string         `json:"severity"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func newActivityViews(in []store.ActivityEntry) []activityView {
	out := make([]activityView, 0, len(in))
	for _, e := range in {
		out = append(out, activityView(e))
	}
	return out
}

type settingView struct {
	Key         string     `json:"key"`
	Value       any        `json:"value"`
	Default     any        `json:"default"`
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Editable    bool       `json:"editable"`
	IsDefault   bool       `json:"isDefault"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
}

func newSettingViews(in []runtimecfg.Setting) []settingView {
	out := make([]settingView, 0, len(in))
	for _, s := range in {
		out = append(out, settingView{
			Key:         s.Key,
			Value:       s.Value,
			Default:     s.Default,
			Type:        string(s.Type),
			Category:    s.Category,
			Description: s.Description,
			Editable:    s.Editable(),
			IsDefault:   s.IsDefault,
			UpdatedAt:   s.UpdatedAt,
			UpdatedBy:   s.UpdatedBy,
		})
	}
	return out
}

type lockedView struct {
	UserID         string     `json:"userId"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	LockedAt       *time.Time `json:"lockedAt,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
	Permanent      bool       `json:"permanent"`
	FailedAttempts int        `json:"failedAttempts"`
}

func newLockedViews(in []panelauth.LockedAccount) []lockedView {
	out := make([]lockedView, 0, len(in))
	for _, a := range in {
		out = append(out, lockedView(a))
	}
	return out
}
