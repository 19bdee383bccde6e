package panelauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the static engine configuration. Thresholds that operators
// change at runtime (rate limits, lockout, session lifetime, password
// policy) live in the runtime settings registry instead; see
// RegisterSettings.
type Config struct {
	AppName   string
	BaseURL   string
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	JWT       JWTConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
	Routes    RoutesConfig
	Debug     DebugConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters used for new hashes.
// Stored hashes with other parameters still verify and are upgraded on
// the next successful login when UpgradeOnLogin is set.
type PasswordConfig struct {
	Memory         uint32 // in KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP enrollment and the pending-login step.
type TwoFactorConfig struct {
	Issuer string
	// PendingTTL bounds the time between the password step and the code
	// step of a two-factor login.
	PendingTTL time.Duration
	// MaxPendingAttempts is the number of wrong codes one pending login
	// tolerates before it is discarded.
	MaxPendingAttempts int
	QRSize             int
	// LowBackupCodes is the remaining-code count at or below which a
	// backup-code login carries a warning.
	LowBackupCodes int
	RedisPrefix    string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the signer of pending two-factor markers.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// AuditConfig controls asynchronous audit delivery. When Enabled is false
// events go to the sink synchronously.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds static security toggles.
type SecurityConfig struct {
	// RevealRemainingAttempts adds the remaining-attempt count to failed
	// login outcomes. Off by default: the count hints that the username
	// exists.
	RevealRemainingAttempts bool
	// TrustForwardedFor makes the HTTP layer take the client address from
	// the first X-Forwarded-For entry.
	TrustForwardedFor bool
	// ResetTokenTTL is the lifetime of password reset links.
	ResetTokenTTL time.Duration
}

// RoutesConfig names the redirect targets carried in outcomes.
type RoutesConfig struct {
	Home           string
	Login          string
	TwoFactor      string
	ChangePassword string
	ResetPassword  string
	VerifyEmail    string
}

// DebugConfig enables development-only behavior.
type DebugConfig struct {
	// Verbose puts the underlying error text into internal failures.
	Verbose bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. The JWT key is empty and
// must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		AppName: "Panel",
		BaseURL: "http://localhost:8080",
		Password: PasswordConfig{
			Memory:         19456,
			Time:           2,
			Parallelism:    1,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:             "Panel",
			PendingTTL:         5 * time.Minute,
			MaxPendingAttempts: 5,
			QRSize:             300,
			LowBackupCodes:     2,
			RedisPrefix:        "p2fa",
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "panelauth",
			Leeway:        5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			RevealRemainingAttempts: false,
			TrustForwardedFor:       false,
			ResetTokenTTL:           time.Hour,
		},
		Routes: RoutesConfig{
			Home:           "/panel",
			Login:          "/login",
			TwoFactor:      "/login/verify-2fa",
			ChangePassword: "/panel/profile/password",
			ResetPassword:  "/reset-password",
			VerifyEmail:    "/verify-email",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("AppName must not be empty")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("BaseURL must be an absolute URL")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Two-factor
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must not be empty")
	}
	if strings.Contains(c.TwoFactor.Issuer, ":") {
		return errors.New("TwoFactor Issuer must not contain ':'")
	}
	if c.TwoFactor.PendingTTL <= 0 || c.TwoFactor.PendingTTL > 15*time.Minute {
		return errors.New("TwoFactor PendingTTL must be in (0, 15m]")
	}
	if c.TwoFactor.MaxPendingAttempts <= 0 {
		return errors.New("TwoFactor MaxPendingAttempts must be > 0")
	}
	if c.TwoFactor.QRSize < 100 || c.TwoFactor.QRSize > 1000 {
		return errors.New("TwoFactor QRSize must be between 100 and 1000")
	}
	if c.TwoFactor.LowBackupCodes < 0 {
		return errors.New("TwoFactor LowBackupCodes must be >= 0")
	}
	if c.TwoFactor.RedisPrefix == "" {
		return errors.New("TwoFactor RedisPrefix must not be empty")
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT Leeway must be between 0 and 1m")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.ResetTokenTTL <= 0 || c.Security.ResetTokenTTL > 24*time.Hour {
		return errors.New("Security ResetTokenTTL must be in (0, 24h]")
	}

	// Routes
	for name, route := range map[string]string{
		"Home":           c.Routes.Home,
		"Login":          c.Routes.Login,
		"TwoFactor":      c.Routes.TwoFactor,
		"ChangePassword": c.Routes.ChangePassword,
		"ResetPassword":  c.Routes.ResetPassword,
		"VerifyEmail":    c.Routes.VerifyEmail,
	} {
		if !strings.HasPrefix(route, "/") {
			return errors.New("Routes " + name + " must be an absolute path")
		}
	}

	return nil
}
