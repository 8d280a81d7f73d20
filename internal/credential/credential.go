// Package credential implements Pyrewall's password hashing format:
// "iterations$salt_hex$hash_hex" using PBKDF2-HMAC-SHA256, per spec.md §6.
//
// Login and role management themselves are out of scope for the core
// (spec.md §1); this package only provides the hashing primitive the
// install bootstrap (internal/storage) and the (external) admin UI call
// into, in the shape the teacher's internal/aghuser package gives its own
// credential helpers.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the default PBKDF2 iteration count mandated by
// spec.md §6.
const DefaultIterations = 150_000

// saltLen is the salt size in bytes, per spec.md §6.
const saltLen = 16

// keyLen is the derived-key length in bytes.
const keyLen = 32

// errMalformed is returned when a stored credential string doesn't have the
// three-field "iterations$salt_hex$hash_hex" shape.
const errMalformed errors.Error = "credential: malformed stored hash"

// Hash derives the three-field credential string for plain using
// DefaultIterations and a freshly generated random salt.
func Hash(plain string) (stored string, err error) {
	return HashWithIterations(plain, DefaultIterations)
}

// HashWithIterations is like Hash but lets the caller pick the iteration
// count; exposed mainly for tests that would otherwise pay the full
// production cost per case.
func HashWithIterations(plain string, iterations int) (stored string, err error) {
	salt := make([]byte, saltLen)
	if _, err = rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: generating salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(plain), salt, iterations, keyLen, sha256.New)

	return fmt.Sprintf("%d$%s$%s", iterations, hex.EncodeToString(salt), hex.EncodeToString(derived)), nil
}

// Verify reports whether plain hashes (with stored's own iteration count and
// salt) to the same value as stored. Comparison is constant-time.
func Verify(stored, plain string) bool {
	iterations, salt, hash, err := parse(stored)
	if err != nil {
		return false
	}

	derived := pbkdf2.Key([]byte(plain), salt, iterations, len(hash), sha256.New)

	return subtle.ConstantTimeCompare(derived, hash) == 1
}

// parse splits a stored credential string into its three fields.
func parse(stored string) (iterations int, salt, hash []byte, err error) {
	parts := strings.SplitN(stored, "$", 3)
	if len(parts) != 3 {
		return 0, nil, nil, errMalformed
	}

	iterations, err = strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, fmt.Errorf("%w: bad iteration count", errMalformed)
	}

	salt, err = hex.DecodeString(parts[1])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: bad salt: %w", errMalformed, err)
	}

	hash, err = hex.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: bad hash: %w", errMalformed, err)
	}

	return iterations, salt, hash, nil
}
