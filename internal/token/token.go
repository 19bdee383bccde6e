// Package token generates and hashes the opaque random tokens used for
// sessions, password resets and email verification.
//
// Raw tokens are handed to the caller once and never stored. Storage only
// ever sees Hash(raw), a fast deterministic digest suitable for equality
// lookups.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// Size is the number of random bytes behind every token.
const Size = 25

var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Generate returns a new URL-safe token carrying Size bytes of entropy.
func Generate() (string, error) {
	var raw [Size]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw[:]), nil
}

// Hash returns the lowercase hex SHA-256 digest of raw.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SessionID derives the storage id of a session from its raw token.
func SessionID(raw string) string {
	return Hash(raw)
}

// WellFormed reports whether s looks like a token produced by Generate.
// Callers use it to reject garbage before touching the store.
func WellFormed(s string) bool {
	if len(s) != encoding.EncodedLen(Size) {
		return false
	}
	return strings.Trim(s, "abcdefghijklmnopqrstuvwxyz234567") == ""
}
