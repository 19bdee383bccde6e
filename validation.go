package panelauth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/MrEthical07/panelauth/password"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,31}$`)
	namePattern     = regexp.MustCompile(`^[\p{L}'\- ]{1,50}$`)
	codePattern     = regexp.MustCompile(`^[0-9]{6}$`)
)

const (
	minPasswordFormat = 6
	maxEmailLength    = 254
)

// normalizeUsername lower-cases and trims; usernames compare
// case-insensitively.
func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return invalid("username", "Invalid username (min 3, max 31 characters, alphanumeric only)")
	}
	return nil
}

// validatePasswordFormat is the cheap shape check applied before any
// store access. Composition rules come from the runtime policy.
func validatePasswordFormat(s string) error {
	if n := len([]rune(s)); n < minPasswordFormat || n > password.MaxLength {
		return invalid("password", "Invalid password (min 6, max 255 characters)")
	}
	return nil
}

func validateEmail(s string) error {
	if s == "" || len(s) > maxEmailLength {
		return invalid("email", "Invalid email address")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndexByte(s, '@'):], ".") {
		return invalid("email", "Invalid email address")
	}
	return nil
}

func validateName(field, label, s string) error {
	if !namePattern.MatchString(s) || strings.TrimSpace(s) == "" {
		return invalid(field, "Invalid "+label+". Make sure it is between 1 and 50 characters long and contains only letters, apostrophes, and hyphens.")
	}
	return nil
}

func validateTOTPFormat(code string) error {
	if !codePattern.MatchString(code) {
		return invalid("code", "Invalid verification code format")
	}
	return nil
}
