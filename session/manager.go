package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/internal/token"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/store"
)

const (
	SettingLifetimeDays         = "security.session.lifetime_days"
	SettingRenewalThresholdDays = "security.session.renewal_threshold_days"
)

const day = 24 * time.Hour

// ErrUnavailable wraps store failures.
var ErrUnavailable = errors.New("session backend unavailable")

// Settings is the part of runtimecfg.Registry the manager reads.
type Settings interface {
	Int(ctx context.Context, key string) (int, error)
}

// Manager implements the session lifecycle on top of the durable store.
type Manager struct {
	sessions store.Sessions
	users    store.Users
	settings Settings
	log      logging.Logger
	now      func() time.Time
}

// NewManager creates a Manager. Lifetime and renewal threshold are read
// from settings on every call. A nil log discards output.
func NewManager(sessions store.Sessions, users store.Users, settings Settings, log logging.Logger) *Manager {
	return &Manager{sessions: sessions, users: users, settings: settings, log: logging.OrNop(log), now: time.Now}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// GenerateToken returns a fresh raw session token.
func (m *Manager) GenerateToken() (string, error) {
	return token.Generate()
}

func (m *Manager) lifetime(ctx context.Context) (time.Duration, time.Duration, error) {
	life, err := m.settings.Int(ctx, SettingLifetimeDays)
	if err != nil {
		return 0, 0, err
	}
	threshold, err := m.settings.Int(ctx, SettingRenewalThresholdDays)
	if err != nil {
		return 0, 0, err
	}
	return time.Duration(life) * day, time.Duration(threshold) * day, nil
}

// Create stores a session for userID under the hash of rawToken.
func (m *Manager) Create(ctx context.Context, rawToken, userID string) (*store.Session, error) {
	life, _, err := m.lifetime(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := store.Session{
		ID:        token.SessionID(rawToken),
		UserID:    userID,
		ExpiresAt: now.Add(life),
		CreatedAt: now,
	}
	if err := m.sessions.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &s, nil
}

// Result is a validated session. Renewed reports that the expiry was
// extended by this validation.
type Result struct {
	Session *store.Session
	User    *store.User
	Renewed bool
}

// Validate resolves rawToken to its session and user. All three results
// are nil when the token does not identify a live session.
func (m *Manager) Validate(ctx context.Context, rawToken string) (*store.Session, *store.User, error) {
	res, err := m.Check(ctx, rawToken)
	if err != nil || res == nil {
		return nil, nil, err
	}
	return res.Session, res.User, nil
}

// Check is Validate with the renewal reported. A nil Result with a nil
// error means the token does not identify a live session. A session whose
// remaining lifetime is below the renewal threshold is extended to the
// full lifetime as a side effect.
func (m *Manager) Check(ctx context.Context, rawToken string) (*Result, error) {
	if !token.WellFormed(rawToken) {
		return nil, nil
	}
	id := token.SessionID(rawToken)

	s, err := m.sessions.SessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := m.now().UTC()
	if !now.Before(s.ExpiresAt) {
		m.discard(ctx, id, "expired")
		return nil, nil
	}

	u, err := m.users.UserByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.discard(ctx, id, "user gone")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	life, threshold, err := m.lifetime(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Session: s, User: u}
	if s.ExpiresAt.Sub(now) < threshold {
		next := now.Add(life)
		ok, err := m.sessions.ExtendSession(ctx, id, next, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !ok {
			// Expired or revoked between the read and the renewal.
			return nil, nil
		}
		s.ExpiresAt = next
		res.Renewed = true
	}

	return res, nil
}

// discard deletes a dead session. The caller already treats it as absent,
// so a failure is only logged.
func (m *Manager) discard(ctx context.Context, id, reason string) {
	if err := m.sessions.DeleteSession(ctx, id); err != nil {
		m.log.Warn(ctx, "stale session delete failed", "reason", reason, "error", err)
	}
}

// Invalidate deletes one session. Deleting an unknown id is not an error.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	if err := m.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// InvalidateUser deletes every session of userID except exceptID, which
// may be empty, and returns how many were removed.
func (m *Manager) InvalidateUser(ctx context.Context, userID, exceptID string) (int, error) {
	n, err := m.sessions.DeleteUserSessions(ctx, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// List returns the live sessions of userID, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]store.Session, error) {
	list, err := m.sessions.ListUserSessions(ctx, userID, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return list, nil
}

// SettingDefinitions returns the runtime setting definitions of sessions.
func SettingDefinitions() []runtimecfg.Definition {
	return []runtimecfg.Definition{
		{
			Key:         SettingLifetimeDays,
			Default:     30,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Session lifetime in days",
			Validator:   runtimecfg.PositiveInt,
		},
		{
			Key:         SettingRenewalThresholdDays,
			Default:     15,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Renew session if it expires within this many days",
			Validator:   runtimecfg.PositiveInt,
		},
	}
}
