package panelauth

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigValidWithKey(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with key should validate: %v", err)
	}

	empty := DefaultConfig()
	if err := empty.Validate(); err == nil {
		t.Fatal("default config without a signing key should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "short hs256 key",
			mutate:    func(c *Config) { c.JWT.PrivateKey = []byte("short") },
			wantValid: false,
		},
		{
			name: "ed25519 without public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name:      "unsupported signing method",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "leeway in range",
			mutate:    func(c *Config) { c.JWT.Leeway = 45 * time.Second },
			wantValid: true,
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "relative login route",
			mutate:    func(c *Config) { c.Routes.Login = "login" },
			wantValid: false,
		},
		{
			name:      "pending ttl zero",
			mutate:    func(c *Config) { c.TwoFactor.PendingTTL = 0 },
			wantValid: false,
		},
		{
			name:      "pending ttl too long",
			mutate:    func(c *Config) { c.TwoFactor.PendingTTL = 20 * time.Minute },
			wantValid: false,
		},
		{
			name:      "pending ttl at bound",
			mutate:    func(c *Config) { c.TwoFactor.PendingTTL = 15 * time.Minute },
			wantValid: true,
		},
		{
			name:      "issuer with colon",
			mutate:    func(c *Config) { c.TwoFactor.Issuer = "Panel:Prod" },
			wantValid: false,
		},
		{
			name:      "qr size too small",
			mutate:    func(c *Config) { c.TwoFactor.QRSize = 50 },
			wantValid: false,
		},
		{
			name:      "reset ttl zero",
			mutate:    func(c *Config) { c.Security.ResetTokenTTL = 0 },
			wantValid: false,
		},
		{
			name:      "reset ttl over a day",
			mutate:    func(c *Config) { c.Security.ResetTokenTTL = 25 * time.Hour },
			wantValid: false,
		},
		{
			name:      "argon2 memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "relative base url",
			mutate:    func(c *Config) { c.BaseURL = "panel.example.com" },
			wantValid: false,
		},
		{
			name: "async audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "blank app name",
			mutate:    func(c *Config) { c.AppName = "  " },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)
	clone.JWT.PrivateKey[0] = 'X'
	if cfg.JWT.PrivateKey[0] == 'X' {
		t.Fatal("cloneConfig shares the key slice")
	}
}
