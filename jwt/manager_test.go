package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newHSManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testKey, Issuer: "panelauth"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m.SetClock(func() time.Time { return *now })
	return m
}

func TestPendingRoundTrip(t *testing.T) {
	now := time.Now()
	m := newHSManager(t, &now)

	tok, jti, exp, err := m.CreatePending("user-1")
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if !exp.Equal(now.Add(DefaultPendingTTL)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParsePending(tok)
	if err != nil {
		t.Fatalf("ParsePending: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID != jti || claims.Purpose != PurposeTwoFactorPending {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestPendingExpires(t *testing.T) {
	now := time.Now()
	m := newHSManager(t, &now)

	tok, _, _, err := m.CreatePending("user-1")
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	now = now.Add(DefaultPendingTTL + time.Second)
	if _, err := m.ParsePending(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired marker, got %v", err)
	}
}

func TestPendingRejectsOtherPurpose(t *testing.T) {
	now := time.Now()
	m := newHSManager(t, &now)

	claims := PendingClaims{Purpose: "session", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "user-1",
		ID:        "j1",
		Issuer:    "panelauth",
		IssuedAt:  gjwt.NewNumericDate(now),
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
	}}
	signed, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testKey)

	_, err := m.ParsePending(signed)
	if !errors.Is(err, ErrInvalidToken) || !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected purpose rejection, got %v", err)
	}
}

func TestPendingRejectsWrongKeyAndAlgorithm(t *testing.T) {
	now := time.Now()
	m := newHSManager(t, &now)

	other, _ := NewManager(Config{PrivateKey: []byte("ffffffffffffffffffffffffffffffff"), Issuer: "panelauth"})
	forged, _, _, _ := other.CreatePending("user-1")
	if _, err := m.ParsePending(forged); err == nil {
		t.Fatal("expected signature mismatch")
	}

	none := gjwt.NewWithClaims(gjwt.SigningMethodNone, PendingClaims{Purpose: PurposeTwoFactorPending})
	unsigned, _ := none.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if _, err := m.ParsePending(unsigned); err == nil {
		t.Fatal("expected alg none to be rejected")
	}

	for _, junk := range []string{"", "not.a.jwt", "a.b.c"} {
		if _, err := m.ParsePending(junk); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", junk, err)
		}
	}
}

func TestEd25519WithKeyID(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, _, _, err := m.CreatePending("user-1")
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if _, err := m.ParsePending(tok); err != nil {
		t.Fatalf("ParsePending: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{PrivateKey: []byte("short")},
		{PrivateKey: testKey, TTL: -time.Second},
		{PrivateKey: testKey, Leeway: time.Hour},
		{SigningMethod: "rs512", PrivateKey: testKey},
		{SigningMethod: MethodEd25519},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
