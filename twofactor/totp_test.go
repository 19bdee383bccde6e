package twofactor

import (
	"bytes"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/password"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return New("Panel", h)
}

func TestGenerateSecretIsBase32With20Bytes(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.GenerateSecret("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(s) != 32 || strings.Trim(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567") != "" {
		t.Fatalf("unexpected secret %q", s)
	}
	other, _ := e.GenerateSecret("alice@example.com")
	if other == s {
		t.Fatal("secrets repeat")
	}
}

func TestChallengeURIFixedParameters(t *testing.T) {
	e := newTestEngine(t)
	raw := e.ChallengeURI("JBSWY3DPEHPK3PXP", "alice@example.com")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" || u.Path != "/Panel:alice@example.com" {
		t.Fatalf("unexpected uri %q", raw)
	}
	q := u.Query()
	for k, want := range map[string]string{"secret": "JBSWY3DPEHPK3PXP", "issuer": "Panel", "algorithm": "SHA1", "digits": "6", "period": "30"} {
		if q.Get(k) != want {
			t.Fatalf("%s = %q, want %q", k, q.Get(k), want)
		}
	}
}

func TestVerifyCodeWindow(t *testing.T) {
	e := newTestEngine(t)
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return now })
	secret, _ := e.GenerateSecret("alice")

	current, err := CodeAt(secret, now)
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if !e.VerifyCode(current, secret, 0) {
		t.Fatal("current code rejected")
	}

	twoBack, _ := CodeAt(secret, now.Add(-60*time.Second))
	if !e.VerifyCode(twoBack, secret, 2) {
		t.Fatal("code two periods old rejected with window 2")
	}
	if twoBack != current && e.VerifyCode(twoBack, secret, 1) {
		t.Fatal("code two periods old accepted with window 1")
	}

	threeAhead, _ := CodeAt(secret, now.Add(90*time.Second))
	if threeAhead != current && e.VerifyCode(threeAhead, secret, 2) {
		t.Fatal("code three periods ahead accepted with window 2")
	}
}

func TestVerifyCodeRejectsMalformed(t *testing.T) {
	e := newTestEngine(t)
	secret, _ := e.GenerateSecret("alice")

	for _, code := range []string{"", "12345", "1234567", "12a456", "12 456", "１２３４５６"} {
		if e.VerifyCode(code, secret, 2) {
			t.Fatalf("accepted malformed code %q", code)
		}
	}
	if e.VerifyCode("123456", "", 2) {
		t.Fatal("accepted empty secret")
	}
	if e.VerifyCode("123456", "!!not-base32!!", 2) {
		t.Fatal("accepted invalid secret")
	}
}

func TestQRCodeIsPNG(t *testing.T) {
	e := newTestEngine(t)
	secret, _ := e.GenerateSecret("alice")

	b, err := e.QRCode(secret, "alice@example.com", 200)
	if err != nil {
		t.Fatalf("QRCode: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if img.Bounds().Dx() != 200 {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}

	dataURL, err := e.QRCodeDataURL(secret, "alice@example.com")
	if err != nil || !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Fatalf("QRCodeDataURL: %q %v", dataURL[:min(len(dataURL), 30)], err)
	}

	if _, err := e.QRCode("", "alice", 200); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
