// Package crypto hashes and verifies operator API keys. Keys are stored as
// PBKDF2-HMAC-SHA256 hashes so a leaked config file does not leak the keys
// themselves.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// hashLen is the derived hash length in bytes.
	hashLen = 32
	// scheme prefixes the encoded hash so the format can evolve.
	scheme = "pbkdf2-sha256"
)

// HashAPIKey derives a salted hash of key in the form
// pbkdf2-sha256$<iterations>$<salt>$<hash> with base64-encoded salt and hash.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("crypto: api key must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, hashLen, sha256.New)
	return strings.Join([]string{
		scheme,
		strconv.Itoa(pbkdf2Iterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	}, "$"), nil
}

// VerifyAPIKey reports whether key matches the encoded hash. Comparison is
// constant-time; any parse failure counts as a mismatch.
func VerifyAPIKey(key, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != scheme {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(key), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
