package twofactor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const backupCodeBytes = 6

// GenerateBackupCodes returns count plaintext codes formatted as
// XXXX-XXXX-XXXX (upper-case hex).
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var raw [backupCodeBytes]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, err
		}
		codes = append(codes, FormatBackupCode(strings.ToUpper(hex.EncodeToString(raw[:]))))
	}
	return codes, nil
}

// FormatBackupCode inserts a dash every four characters.
func FormatBackupCode(code string) string {
	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalBackupCode upper-cases code and drops dashes and whitespace.
func CanonicalBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return r
		}
	}, code)
}

// HashBackupCodes hashes each code's canonical form independently.
func (e *Engine) HashBackupCodes(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := e.hasher.Hash(CanonicalBackupCode(c))
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// VerifyBackupCode returns the index of the hash matching code, or -1.
// Malformed stored hashes are skipped.
func (e *Engine) VerifyBackupCode(code string, hashes []string) int {
	canonical := CanonicalBackupCode(code)
	if canonical == "" {
		return -1
	}
	for i, h := range hashes {
		if e.hasher.Matches(canonical, h) {
			return i
		}
	}
	return -1
}
