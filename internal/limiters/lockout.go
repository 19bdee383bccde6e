package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/store"
)

const (
	SettingMaxFailedAttempts = "security.account_lockout.max_failed_attempts"
	SettingLockDuration      = "security.account_lockout.duration_minutes"
	SettingResetAfter        = "security.account_lockout.reset_after_minutes"
)

const (
	reasonPermanent = "Account has been locked by an administrator"
	reasonTimed     = "Account temporarily locked due to too many failed login attempts"
)

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Settings is the part of runtimecfg.Registry the lockout engine reads.
type Settings interface {
	Int(ctx context.Context, key string) (int, error)
}

// Status is the lock state of one account after lazy expiry.
type Status struct {
	Locked      bool
	Permanent   bool
	LockedUntil *time.Time
	Reason      string
}

// Result is the outcome of one recorded failure.
type Result struct {
	Locked            bool
	AttemptsRemaining int
	LockedUntil       *time.Time
}

// Lockout tracks failed logins on the user record and locks accounts
// that reach the threshold. A timed lock is lifted lazily by the next
// IsAccountLocked call after its deadline; a permanent lock only by
// UnlockAccount.
type Lockout struct {
	users    store.Users
	settings Settings
	now      func() time.Time
}

// NewLockout creates a lockout engine. Thresholds are read from settings
// on every call.
func NewLockout(users store.Users, settings Settings) *Lockout {
	return &Lockout{users: users, settings: settings, now: time.Now}
}

// SetClock overrides the time source.
func (l *Lockout) SetClock(now func() time.Time) {
	l.now = now
}

// Policy resolves the current thresholds.
func (l *Lockout) Policy(ctx context.Context) (store.LockoutPolicy, error) {
	max, err := l.settings.Int(ctx, SettingMaxFailedAttempts)
	if err != nil {
		return store.LockoutPolicy{}, err
	}
	dur, err := l.settings.Int(ctx, SettingLockDuration)
	if err != nil {
		return store.LockoutPolicy{}, err
	}
	reset, err := l.settings.Int(ctx, SettingResetAfter)
	if err != nil {
		return store.LockoutPolicy{}, err
	}
	return store.LockoutPolicy{
		MaxAttempts:  max,
		LockDuration: time.Duration(dur) * time.Minute,
		ResetAfter:   time.Duration(reset) * time.Minute,
	}, nil
}

// IsAccountLocked reports the lock state of userID, clearing a timed lock
// whose deadline has passed. Unknown users are reported unlocked.
func (l *Lockout) IsAccountLocked(ctx context.Context, userID string) (Status, error) {
	u, err := l.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, unavailable(err)
	}

	now := l.now()
	if st, locked := statusOf(u, now); locked {
		return st, nil
	}
	if !u.IsLocked {
		return Status{}, nil
	}

	changed, err := l.users.UnlockExpired(ctx, userID, now)
	if err != nil {
		return Status{}, unavailable(err)
	}
	if changed {
		return Status{}, nil
	}

	// Someone re-locked the account between the read and the unlock.
	u, err = l.users.UserByID(ctx, userID)
	if err != nil {
		return Status{}, unavailable(err)
	}
	st, _ := statusOf(u, now)
	return st, nil
}

func statusOf(u *store.User, now time.Time) (Status, bool) {
	if !u.IsLocked {
		return Status{}, false
	}
	if u.LockedUntil == nil {
		return Status{Locked: true, Permanent: true, Reason: reasonPermanent}, true
	}
	if u.LockedUntil.After(now) {
		until := *u.LockedUntil
		return Status{Locked: true, LockedUntil: &until, Reason: reasonTimed}, true
	}
	return Status{}, false
}

// RecordFailedLogin counts one failure in a single atomic store update and
// reports whether the account is now locked.
func (l *Lockout) RecordFailedLogin(ctx context.Context, userID string) (Result, error) {
	p, err := l.Policy(ctx)
	if err != nil {
		return Result{}, err
	}

	st, err := l.users.RecordFailedLogin(ctx, userID, l.now(), p)
	if err != nil {
		return Result{}, unavailable(err)
	}

	if st.IsLocked {
		return Result{Locked: true, LockedUntil: st.LockedUntil}, nil
	}
	remaining := p.MaxAttempts - st.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return Result{AttemptsRemaining: remaining}, nil
}

// ClearFailedAttempts resets the counter after a successful authentication.
func (l *Lockout) ClearFailedAttempts(ctx context.Context, userID string) error {
	if err := l.users.ClearFailedLogins(ctx, userID, l.now()); err != nil {
		return unavailable(err)
	}
	return nil
}

// LockAccount locks userID until now plus the configured duration, or
// permanently.
func (l *Lockout) LockAccount(ctx context.Context, userID string, permanent bool) (*time.Time, error) {
	now := l.now()
	var until *time.Time
	if !permanent {
		p, err := l.Policy(ctx)
		if err != nil {
			return nil, err
		}
		t := now.Add(p.LockDuration)
		until = &t
	}
	if err := l.users.LockUser(ctx, userID, now, until); err != nil {
		return nil, unavailable(err)
	}
	return until, nil
}

// UnlockAccount clears any lock and the failure counter.
func (l *Lockout) UnlockAccount(ctx context.Context, userID string) error {
	if err := l.users.UnlockUser(ctx, userID, l.now()); err != nil {
		return unavailable(err)
	}
	return nil
}

// LockedAccounts lists every account whose lock flag is set, including
// timed locks that have expired but were not yet lifted.
func (l *Lockout) LockedAccounts(ctx context.Context) ([]store.User, error) {
	users, err := l.users.ListUsers(ctx, store.Where(store.Eq(store.FieldIsLocked, true)))
	if err != nil {
		return nil, unavailable(err)
	}
	return users, nil
}

func unavailable(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
}

// LockoutSettings returns the runtime setting definitions of the engine.
func LockoutSettings() []runtimecfg.Definition {
	return []runtimecfg.Definition{
		{
			Key:         SettingMaxFailedAttempts,
			Default:     5,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Maximum failed login attempts before account lockout",
			Validator:   runtimecfg.PositiveInt,
		},
		{
			Key:         SettingLockDuration,
			Default:     30,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "How long to lock an account after too many failed attempts (in minutes)",
			Validator:   runtimecfg.PositiveInt,
		},
		{
			Key:         SettingResetAfter,
			Default:     60,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Reset the failed attempt counter after this many minutes without a failure",
			Validator:   runtimecfg.PositiveInt,
		},
	}
}
