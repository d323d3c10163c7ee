// Package secret generates bearer tokens and hashes them with Argon2id.
// The raw token is handed to the caller exactly once at issuance; only
// the hash and a short non-secret fingerprint are ever persisted.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// TokenPrefix is the structural marker every issued token starts with.
	TokenPrefix = "tok_"

	// FingerprintLen is the length of the indexable token prefix stored
	// alongside the hash ("tok_" + 8 chars of the random part).
	FingerprintLen = 12

	tokenRandomBytes = 32
)

// ErrMalformedHash is returned when a stored hash cannot be parsed. A
// mismatch between a well-formed hash and a presented secret is not an
// error; it is a normal false result.
var ErrMalformedHash = errors.New("malformed argon2id hash")

// Params are the Argon2id cost parameters used for new hashes. Existing
// hashes carry their own parameters in the encoded string.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams are deliberately expensive (tens of milliseconds per
// verification); the validation cache exists to amortize this cost.
func DefaultParams() Params {
	return Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// GenerateToken returns a new random bearer token of the form
// "tok_" + 43 chars of base64url (32 random bytes).
func GenerateToken() (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint returns the short, non-secret, indexable prefix of a raw
// token. It locates candidate rows; the full secret is still required to
// verify.
func Fingerprint(raw string) string {
	if len(raw) < FingerprintLen {
		return raw
	}
	return raw[:FingerprintLen]
}

// HasTokenPrefix reports whether s passes the cheap structural check for
// an issued token. Used to reject garbage before any cache or store work.
func HasTokenPrefix(s string) bool {
	return len(s) > FingerprintLen && strings.HasPrefix(s, TokenPrefix)
}

// Hash derives an Argon2id hash of the raw secret with a fresh random
// salt and returns it in the standard encoded form
// $argon2id$v=19$m=...,t=...,p=...$salt$hash.
func Hash(raw string, p Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(raw), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks a presented secret against a stored encoded hash.
// A mismatch returns (false, nil); an error is returned only when the
// stored hash cannot be parsed.
func Verify(encoded, presented string) (bool, error) {
	salt, key, p, err := decode(encoded)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(presented), salt, p.Time, p.Memory, p.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

func decode(encoded string) (salt, key []byte, p Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, p, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, p, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, nil, p, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, nil, p, ErrMalformedHash
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, p, ErrMalformedHash
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, p, ErrMalformedHash
	}
	return salt, key, p, nil
}
