package password

import (
	"errors"
	"strings"
	"testing"
)

func strictPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireNumber:  true,
		RequireSpecial: true,
	}
}

func TestPolicyAcceptsValidPasswords(t *testing.T) {
	for _, pw := range []string{"Admin123!", "Test@1234", "MyP@ssw0rd", "Secure#Pass1", "Test123!"} {
		if err := strictPolicy().Validate(pw); err != nil {
			t.Fatalf("Validate(%q) = %v, want nil", pw, err)
		}
	}
}

func TestPolicyRejections(t *testing.T) {
	tests := []struct {
		pw   string
		want string
	}{
		{"Test1!", "Password must be at least 8 characters long"},
		{"test123!", "Password must contain at least one uppercase letter"},
		{"TEST123!", "Password must contain at least one lowercase letter"},
		{"TestPass!", "Password must contain at least one number"},
		{"TestPass1", "Password must contain at least one special character"},
		{strings.Repeat("A", 256) + "1!", "Password cannot exceed 255 characters"},
	}

	for _, tc := range tests {
		err := strictPolicy().Validate(tc.pw)
		if err == nil {
			t.Fatalf("Validate(%q) = nil, want %q", tc.pw, tc.want)
		}
		if !errors.Is(err, ErrPolicy) {
			t.Fatalf("Validate(%q) error does not wrap ErrPolicy: %v", tc.pw, err)
		}
		if err.Error() != tc.want {
			t.Fatalf("Validate(%q) = %q, want %q", tc.pw, err.Error(), tc.want)
		}
	}
}

func TestPolicyOptionalRules(t *testing.T) {
	p := Policy{MinLength: 6}
	if err := p.Validate("123456"); err != nil {
		t.Fatalf("expected relaxed policy to accept digits only: %v", err)
	}
	if err := p.Validate("12345"); err == nil {
		t.Fatal("expected relaxed policy to enforce minimum length")
	}
}

func TestPolicyEntropy(t *testing.T) {
	p := Policy{MinLength: 6, MinEntropyBits: 60}
	if err := p.Validate("aaaaaaaa"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected low-entropy password to be rejected, got %v", err)
	}
	if err := p.Validate("correct horse battery staple 42!"); err != nil {
		t.Fatalf("expected high-entropy password to pass: %v", err)
	}
	if Entropy("aaaaaaaa") >= Entropy("Xq9!mP2#vL7@") {
		t.Fatal("expected entropy estimate to grow with character variety")
	}
}
