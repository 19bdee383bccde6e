package token

import (
	"net/url"
	"testing"
)

func TestGenerateIsURLSafeAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := Generate()
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if url.QueryEscape(tok) != tok {
			t.Fatalf("token %q is not URL safe", tok)
		}
		if !WellFormed(tok) {
			t.Fatalf("token %q rejected by WellFormed", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestHashIsDeterministicHex(t *testing.T) {
	h := Hash("abc")
	if h != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", h)
	}
	if SessionID("abc") != h {
		t.Fatal("expected session id to equal the token hash")
	}
}

func TestWellFormedRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "short", "ABCDEFGHIJKLMNOPQRSTUVWXYZABCDEFGHIJKLM", "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"} {
		if WellFormed(s) {
			t.Fatalf("WellFormed(%q) = true", s)
		}
	}
}
