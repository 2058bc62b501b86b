// Package auth provides authentication primitives for the gateway: API key
// generation and format checks, JWT creation/verification, the Principal type
// carried through request context, and the ordered membership Role enum.
// Two credential types are supported: JWTs (issued on dashboard login,
// stateless verification) and API keys (long-lived org-scoped secrets stored
// as SHA-256 digests). See internal/middleware/auth.go for the request-time
// resolution logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/smp-platform/access-gateway/internal/crypto"
)

// Key format: smp_{env}_{secret}, e.g. smp_live_4f8d…(64 hex chars).
const (
	// KeyRandomBytes is the entropy of the secret part; hex-encoded it yields 64 characters.
	KeyRandomBytes = 32

	// DisplayPrefixLength is how much of the full key is stored and shown for identification.
	DisplayPrefixLength = 12
)

// Environment tags embedded in the key prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var keyFormat = regexp.MustCompile(`^smp_(live|test)_[a-f0-9]{64}$`)

// GenerateAPIKey creates a new random API key for the given environment tag
// (EnvLive unless EnvTest is passed explicitly).
// Returns: full plaintext key (disclosed once, never stored), its SHA-256
// digest (stored), and the display prefix (stored, shown in listings).
func GenerateAPIKey(env string) (key, digest, displayPrefix string, err error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	secret := make([]byte, KeyRandomBytes)
	if _, err = rand.Read(secret); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}

	key = fmt.Sprintf("smp_%s_%s", env, hex.EncodeToString(secret))
	digest = crypto.HashAPIKey(key)
	displayPrefix = key[:DisplayPrefixLength]

	return key, digest, displayPrefix, nil
}

// ValidKeyFormat reports whether a presented string is shaped like a gateway
// API key. Requests carrying malformed keys can be rejected without a
// database round trip.
func ValidKeyFormat(key string) bool {
	return keyFormat.MatchString(key)
}

// DefaultKeyEnv returns the environment tag for newly issued keys: EnvTest
// when the process runs in development mode, EnvLive otherwise.
func DefaultKeyEnv() string {
	if isDevMode() {
		return EnvTest
	}
	return EnvLive
}
