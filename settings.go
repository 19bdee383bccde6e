package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelauth/internal/limiters"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/twofactor"
)

const (
	SettingPasswordMinLength      = "security.password.min_length"
	SettingPasswordRequireUpper   = "security.password.require_uppercase"
	SettingPasswordRequireLower   = "security.password.require_lowercase"
	SettingPasswordRequireNumber  = "security.password.require_number"
	SettingPasswordRequireSpecial = "security.password.require_special"
	SettingPasswordMinEntropy     = "security.password.min_entropy_bits"

	SettingEmailVerificationRequired = "email.verification.required"
	SettingEmailVerificationExpiry   = "email.verification.token_expiry_hours"
	SettingRegistrationEnabled       = "auth.registration.enabled"
)

// SettingDefinitions returns every runtime setting the engine reads, with
// defaults.
func SettingDefinitions() []runtimecfg.Definition {
	var defs []runtimecfg.Definition
	defs = append(defs, rate.Settings()...)
	defs = append(defs, limiters.LockoutSettings()...)
	defs = append(defs, session.SettingDefinitions()...)
	defs = append(defs, twofactor.SettingDefinitions()...)
	defs = append(defs,
		runtimecfg.Definition{
			Key:         SettingPasswordMinLength,
			Default:     8,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Minimum password length",
			Validator:   runtimecfg.IntRange(6, password.MaxLength),
		},
		runtimecfg.Definition{
			Key:         SettingPasswordRequireUpper,
			Default:     true,
			Type:        runtimecfg.TypeBool,
			Category:    "security",
			Description: "Require at least one uppercase letter in passwords",
		},
		runtimecfg.Definition{
			Key:         SettingPasswordRequireLower,
			Default:     true,
			Type:        runtimecfg.TypeBool,
			Category:    "security",
			Description: "Require at least one lowercase letter in passwords",
		},
		runtimecfg.Definition{
			Key:         SettingPasswordRequireNumber,
			Default:     true,
			Type:        runtimecfg.TypeBool,
			Category:    "security",
			Description: "Require at least one number in passwords",
		},
		runtimecfg.Definition{
			Key:         SettingPasswordRequireSpecial,
			Default:     false,
			Type:        runtimecfg.TypeBool,
			Category:    "security",
			Description: "Require at least one special character in passwords",
		},
		runtimecfg.Definition{
			Key:         SettingPasswordMinEntropy,
			Default:     0,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Minimum estimated password entropy in bits (0 disables the check)",
			Validator:   runtimecfg.IntRange(0, 128),
		},
		runtimecfg.Definition{
			Key:         SettingEmailVerificationRequired,
			Default:     false,
			Type:        runtimecfg.TypeBool,
			Category:    "email",
			Description: "Require email verification before login",
		},
		runtimecfg.Definition{
			Key:         SettingEmailVerificationExpiry,
			Default:     24,
			Type:        runtimecfg.TypeInt,
			Category:    "email",
			Description: "Email verification token expiry time (in hours)",
			Validator:   runtimecfg.IntRange(1, 168),
		},
		runtimecfg.Definition{
			Key:         SettingRegistrationEnabled,
			Default:     true,
			Type:        runtimecfg.TypeBool,
			Category:    "auth",
			Description: "Allow self-service registration",
		},
	)
	return defs
}

// RegisterSettings registers every definition of SettingDefinitions that
// reg does not already know. Definitions registered earlier by the caller
// win.
func RegisterSettings(reg *runtimecfg.Registry) error {
	for _, def := range SettingDefinitions() {
		if _, ok := reg.Lookup(def.Key); ok {
			continue
		}
		if err := reg.Register(def); err != nil && !errors.Is(err, runtimecfg.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}

// passwordPolicy reads the current policy. It is built per decision so
// that setting changes apply to the next request.
func (e *Engine) passwordPolicy(ctx context.Context) (password.Policy, error) {
	var (
		p   password.Policy
		err error
	)
	if p.MinLength, err = e.settings.Int(ctx, SettingPasswordMinLength); err != nil {
		return p, err
	}
	if p.RequireUpper, err = e.settings.Bool(ctx, SettingPasswordRequireUpper); err != nil {
		return p, err
	}
	if p.RequireLower, err = e.settings.Bool(ctx, SettingPasswordRequireLower); err != nil {
		return p, err
	}
	if p.RequireNumber, err = e.settings.Bool(ctx, SettingPasswordRequireNumber); err != nil {
		return p, err
	}
	if p.RequireSpecial, err = e.settings.Bool(ctx, SettingPasswordRequireSpecial); err != nil {
		return p, err
	}
	bits, err := e.settings.Int(ctx, SettingPasswordMinEntropy)
	if err != nil {
		return p, err
	}
	p.MinEntropyBits = float64(bits)
	return p, nil
}

func (e *Engine) verificationTTL(ctx context.Context) (time.Duration, error) {
	return e.settings.Duration(ctx, SettingEmailVerificationExpiry, time.Hour)
}
