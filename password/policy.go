package password

import (
	"errors"
	"fmt"
	"unicode"

	passwordvalidator "github.com/wagslane/go-password-validator"
)

// MaxLength is the longest password any policy accepts.
const MaxLength = 255

// ErrPolicy is wrapped by every Policy violation. The wrapped message is
// safe to show to the user.
var ErrPolicy = errors.New("password policy violation")

// PolicyError carries the user-facing reason for a rejected password.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return e.Reason }

// Unwrap lets callers match with errors.Is(err, ErrPolicy).
func (e *PolicyError) Unwrap() error { return ErrPolicy }

// Policy describes the composition rules a new password must satisfy.
// Values come from runtime configuration and may change between requests,
// so callers build a Policy per decision instead of caching one.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireNumber  bool
	RequireSpecial bool
	// MinEntropyBits enables the entropy estimate from go-password-validator
	// when greater than zero.
	MinEntropyBits float64
}

// Validate returns nil when pw satisfies p, or a *PolicyError naming the
// first rule it breaks. Length rules are checked before composition rules.
func (p Policy) Validate(pw string) error {
	length := len([]rune(pw))
	if length < p.MinLength {
		return &PolicyError{Reason: fmt.Sprintf("Password must be at least %d characters long", p.MinLength)}
	}
	if length > MaxLength {
		return &PolicyError{Reason: fmt.Sprintf("Password cannot exceed %d characters", MaxLength)}
	}

	var upper, lower, number, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			number = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	if p.RequireUpper && !upper {
		return &PolicyError{Reason: "Password must contain at least one uppercase letter"}
	}
	if p.RequireLower && !lower {
		return &PolicyError{Reason: "Password must contain at least one lowercase letter"}
	}
	if p.RequireNumber && !number {
		return &PolicyError{Reason: "Password must contain at least one number"}
	}
	if p.RequireSpecial && !special {
		return &PolicyError{Reason: "Password must contain at least one special character"}
	}

	if p.MinEntropyBits > 0 {
		if err := passwordvalidator.Validate(pw, p.MinEntropyBits); err != nil {
			return &PolicyError{Reason: "Password is too easy to guess: " + err.Error()}
		}
	}

	return nil
}

// Entropy reports the estimated entropy of pw in bits.
func Entropy(pw string) float64 {
	return passwordvalidator.GetEntropy(pw)
}
