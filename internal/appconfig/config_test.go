package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panel.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("panelauth", nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout.Duration)
	assert.True(t, cfg.Database.Migrate)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeTOML(t, `
app_name = "Ops Panel"

[http]
addr = ":9000"
read_timeout = "3s"

[redis]
addr = "redis.internal:6379"

[security]
jwt_key = "from-file-from-file-from-file-0000"
`)
	env := func(k string) (string, bool) {
		if k == EnvJWTKey {
			return "from-env-from-env-from-env-00000000", true
		}
		return "", false
	}

	cfg, err := load("panelauth", []string{"-config", path, "-redis-addr", "127.0.0.1:6380"}, env)
	require.NoError(t, err)

	assert.Equal(t, "Ops Panel", cfg.AppName)
	assert.Equal(t, ":9000", cfg.HTTP.Addr, "file value kept when the flag is not set")
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout.Duration)
	assert.Equal(t, "127.0.0.1:6380", cfg.Redis.Addr, "explicit flag wins over file")
	assert.Equal(t, "from-env-from-env-from-env-00000000", cfg.Security.JWTKey, "env wins over file")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[http]\nadress = \":1\"\n")
	_, err := load("panelauth", []string{"-config", path}, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.adress")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Redis.Addr = ""
	cfg.Log.Level = "loud"
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr")
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "smtp.port")
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.AppName = "Ops Panel"
	cfg.Security.JWTKey = "0123456789abcdef0123456789abcdef"
	cfg.HTTP.TrustProxy = true

	ec := cfg.EngineConfig()
	assert.Equal(t, "Ops Panel", ec.TwoFactor.Issuer)
	assert.True(t, ec.Security.TrustForwardedFor)
	require.NoError(t, ec.Validate())

	_, ok := cfg.Mail()
	assert.False(t, ok, "mail disabled without an SMTP host")
	cfg.SMTP.Host = "smtp.example.com"
	m, ok := cfg.Mail()
	assert.True(t, ok)
	assert.Equal(t, 587, m.Port)
}
