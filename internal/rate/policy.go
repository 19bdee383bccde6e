package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/panelauth/runtimecfg"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionLogin         Action = "login"
	ActionRegister      Action = "register"
	ActionPasswordReset Action = "password-reset"
	ActionAPIGeneral    Action = "api-general"
	ActionTwoFactor     Action = "two-factor"
)

// Actions lists every action with a registered policy.
var Actions = []Action{ActionLogin, ActionRegister, ActionPasswordReset, ActionAPIGeneral, ActionTwoFactor}

// Known reports whether a is one of Actions.
func Known(a Action) bool {
	for _, k := range Actions {
		if k == a {
			return true
		}
	}
	return false
}

// Policy is the limit for one action. A zero Block disables blocking.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// PolicySource resolves the policy of an action.
type PolicySource interface {
	Policy(ctx context.Context, action Action) (Policy, error)
}

// StaticPolicies is a fixed PolicySource.
type StaticPolicies map[Action]Policy

func (s StaticPolicies) Policy(_ context.Context, action Action) (Policy, error) {
	p, ok := s[action]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return p, nil
}

// IntSettings is the part of runtimecfg.Registry the limiter reads.
type IntSettings interface {
	Int(ctx context.Context, key string) (int, error)
}

// SettingsPolicies reads policies from runtime settings on every call.
type SettingsPolicies struct {
	Settings IntSettings
}

func (s SettingsPolicies) Policy(ctx context.Context, action Action) (Policy, error) {
	if !Known(action) {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	max, err := s.Settings.Int(ctx, SettingKey(action, "max_attempts"))
	if err != nil {
		return Policy{}, err
	}
	window, err := s.Settings.Int(ctx, SettingKey(action, "window_minutes"))
	if err != nil {
		return Policy{}, err
	}
	block, err := s.Settings.Int(ctx, SettingKey(action, "block_duration_minutes"))
	if err != nil && !errors.Is(err, runtimecfg.ErrUnknownKey) {
		return Policy{}, err
	}

	return Policy{
		MaxAttempts: max,
		Window:      time.Duration(window) * time.Minute,
		Block:       time.Duration(block) * time.Minute,
	}, nil
}

// SettingKey returns the runtime setting key of one policy field, e.g.
// rate_limit.password_reset.max_attempts.
func SettingKey(action Action, field string) string {
	return "rate_limit." + strings.ReplaceAll(string(action), "-", "_") + "." + field
}

type defaults struct {
	action      Action
	max, window int
	block       int
	what        string
}

var policyDefaults = []defaults{
	{ActionLogin, 20, 15, 15, "login attempts (per IP)"},
	{ActionRegister, 3, 60, 60, "registration attempts (per IP)"},
	{ActionPasswordReset, 3, 60, 60, "password reset requests (per IP)"},
	{ActionAPIGeneral, 100, 1, 0, "general API requests (per IP)"},
	{ActionTwoFactor, 5, 5, 15, "two-factor code attempts (per user)"},
}

// Settings returns the runtime setting definitions of every policy.
func Settings() []runtimecfg.Definition {
	var out []runtimecfg.Definition
	for _, d := range policyDefaults {
		out = append(out,
			runtimecfg.Definition{
				Key:         SettingKey(d.action, "max_attempts"),
				Default:     d.max,
				Type:        runtimecfg.TypeInt,
				Category:    "rate_limit",
				Description: "Maximum " + d.what + " allowed within the time window",
				Validator:   runtimecfg.PositiveInt,
			},
			runtimecfg.Definition{
				Key:         SettingKey(d.action, "window_minutes"),
				Default:     d.window,
				Type:        runtimecfg.TypeInt,
				Category:    "rate_limit",
				Description: "Time window in minutes for tracking " + d.what,
				Validator:   runtimecfg.PositiveInt,
			},
			runtimecfg.Definition{
				Key:         SettingKey(d.action, "block_duration_minutes"),
				Default:     d.block,
				Type:        runtimecfg.TypeInt,
				Category:    "rate_limit",
				Description: "Minutes to keep blocking after the limit is exceeded (0 disables blocking)",
				Validator:   runtimecfg.NonNegativeInt,
			},
		)
	}
	return out
}
