package twofactor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/panelauth/runtimecfg"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	SettingBackupCodesCount = "security.2fa.backup_codes_count"
	SettingSetupWindow      = "security.2fa.setup_window"
	SettingLoginWindow      = "security.2fa.login_window"
)

const (
	secretSize    = 20
	period        = 30
	defaultQRSize = 300
)

var (
	ErrEmptySecret = errors.New("twofactor: empty secret")
	ErrQRCode      = errors.New("twofactor: qr code generation failed")
)

// Hasher is the memory-hard hash used for backup codes.
type Hasher interface {
	Hash(secret string) (string, error)
	Matches(secret, encoded string) bool
}

// Engine generates and verifies second factors.
type Engine struct {
	issuer string
	hasher Hasher
	now    func() time.Time
}

// New creates an Engine. issuer is shown in authenticator apps.
func New(issuer string, hasher Hasher) *Engine {
	return &Engine{issuer: issuer, hasher: hasher, now: time.Now}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// GenerateSecret returns a new 20 byte secret, base32 without padding.
func (e *Engine) GenerateSecret(accountLabel string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountLabel,
		SecretSize:  secretSize,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ChallengeURI returns the otpauth:// provisioning URI for secret.
func (e *Engine) ChallengeURI(secret, accountLabel string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", e.issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	v.Set("period", "30")

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + e.issuer + ":" + accountLabel,
		RawQuery: v.Encode(),
	}
	return u.String()
}

// QRCode renders the provisioning URI as a size x size PNG.
func (e *Engine) QRCode(secret, accountLabel string, size int) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if size <= 0 {
		size = defaultQRSize
	}

	key, err := otp.NewKeyFromURL(e.ChallengeURI(secret, accountLabel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRCode, err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRCode, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRCode, err)
	}
	return buf.Bytes(), nil
}

// QRCodeDataURL is QRCode encoded as a data:image/png;base64 URL.
func (e *Engine) QRCodeDataURL(secret, accountLabel string) (string, error) {
	b, err := e.QRCode(secret, accountLabel, defaultQRSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}

// VerifyCode checks a six digit code against secret, accepting window
// periods of drift on either side. Malformed input never reaches the
// HMAC computation.
func (e *Engine) VerifyCode(code, secret string, window uint) bool {
	code = strings.TrimSpace(code)
	if !isSixDigits(code) || secret == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// CodeAt returns the code for secret at t. It exists for tests and
// tooling that need to act as an authenticator.
func CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SettingDefinitions returns the runtime setting definitions of two-factor
// authentication.
func SettingDefinitions() []runtimecfg.Definition {
	return []runtimecfg.Definition{
		{
			Key:         SettingBackupCodesCount,
			Default:     10,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Number of backup codes to generate for 2FA",
			Validator:   runtimecfg.IntRange(5, 20),
		},
		{
			Key:         SettingSetupWindow,
			Default:     2,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Accepted clock drift in 30 second periods when confirming 2FA setup",
			Validator:   runtimecfg.IntRange(0, 10),
		},
		{
			Key:         SettingLoginWindow,
			Default:     1,
			Type:        runtimecfg.TypeInt,
			Category:    "security",
			Description: "Accepted clock drift in 30 second periods when verifying a login code",
			Validator:   runtimecfg.IntRange(0, 10),
		},
	}
}
