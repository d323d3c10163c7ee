package secret

import (
	"strings"
	"testing"
)

// fastParams keeps hashing cheap in tests; correctness is independent of
// cost settings.
func fastParams() Params {
	return Params{Time: 1, Memory: 16, Threads: 1, KeyLen: 32, SaltLen: 16}
}

func TestGenerateTokenFormat(t *testing.T) {
	raw, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !strings.HasPrefix(raw, TokenPrefix) {
		t.Errorf("token %q missing %q prefix", raw, TokenPrefix)
	}
	// tok_ + 43 chars of base64url for 32 bytes
	if len(raw) != len(TokenPrefix)+43 {
		t.Errorf("token length: got %d, want %d", len(raw), len(TokenPrefix)+43)
	}
	if !HasTokenPrefix(raw) {
		t.Error("HasTokenPrefix rejected a generated token")
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
}

func TestFingerprint(t *testing.T) {
	raw := "tok_abcdefghijklmnop"
	fp := Fingerprint(raw)
	if fp != "tok_abcdefgh" {
		t.Errorf("Fingerprint: got %q, want %q", fp, "tok_abcdefgh")
	}
	if Fingerprint("short") != "short" {
		t.Errorf("Fingerprint of short input should be the input itself")
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	raw, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	encoded, err := Hash(raw, fastParams())
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("encoded hash %q missing $argon2id$ marker", encoded)
	}
	if strings.Contains(encoded, raw) {
		t.Error("encoded hash contains the raw secret")
	}

	ok, err := Verify(encoded, raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify rejected the correct secret")
	}
}

func TestVerifyMismatch(t *testing.T) {
	encoded, err := Hash("tok_correct-secret", fastParams())
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	for _, presented := range []string{
		"tok_correct-secreT", // one byte off
		"tok_wrong",
		"",
	} {
		ok, err := Verify(encoded, presented)
		if err != nil {
			t.Fatalf("Verify(%q): unexpected error %v", presented, err)
		}
		if ok {
			t.Errorf("Verify(%q): accepted a wrong secret", presented)
		}
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=16,t=1,p=1$c2FsdA$aGFzaA",      // wrong variant
		"$argon2id$v=18$m=16,t=1,p=1$c2FsdA$aGFzaA",     // wrong version
		"$argon2id$v=19$m=16,t=1,p=1$!!notb64!!$aGFzaA", // bad salt
	} {
		_, err := Verify(encoded, "tok_anything")
		if err == nil {
			t.Errorf("Verify(%q): expected malformed-hash error", encoded)
		}
	}
}

func TestVerifyHonorsEmbeddedParams(t *testing.T) {
	// A hash created with one set of cost parameters must verify even if
	// the process default changes: parameters live in the encoded string.
	encoded, err := Hash("tok_param-check", Params{Time: 2, Memory: 32, Threads: 1, KeyLen: 16, SaltLen: 8})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := Verify(encoded, "tok_param-check")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify failed for hash with non-default parameters")
	}
}
