// Package crypto provides the two one-way credential transforms the gateway
// stores: Argon2id hashes for user passwords and SHA-256 digests for API keys.
// The split is deliberate. Passwords are low-entropy, user-chosen strings, so
// they get a memory-hard hash with a per-call random salt to make offline
// brute force expensive. API keys are 256-bit secrets generated by the gateway
// itself, so brute-force resistance comes from entropy, not hash cost. What
// matters for keys is that authentication stays a single indexed lookup, which
// requires a deterministic, unsalted digest. Storing a salted hash for keys
// would force a table scan with one slow hash per row on every request.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP recommended minimum).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB, so 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	// ErrInvalidHash is returned when a stored password hash is not a valid PHC string.
	ErrInvalidHash = errors.New("crypto: invalid password hash format")
	// ErrIncompatibleVersion is returned when a stored hash was produced by an unsupported argon2 version.
	ErrIncompatibleVersion = errors.New("crypto: incompatible argon2 version")
)

// HashPassword hashes a plaintext password with Argon2id and a fresh random
// salt. The result is a self-describing PHC string
// ($argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>) so parameters can be raised
// later without invalidating existing rows.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash,
	), nil
}

// VerifyPassword reports whether password matches the stored PHC-encoded hash.
// The hash is recomputed with the parameters embedded in the stored string and
// compared in constant time.
func VerifyPassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of a full plaintext API
// key. The digest is what the api_keys.key_hash unique index stores; the
// plaintext itself is never persisted.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
