// input.go validates and normalizes user-supplied account, organization, and
// API key fields before they reach the service layer.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Password length bounds. The maximum guards the Argon2id hasher against
// absurdly long inputs; the minimum is a floor, not a strength check.
const (
	PasswordMinLength = 10
	PasswordMaxLength = 128
)

// Organization and key name length bounds (counted in runes after trimming).
const (
	OrgNameMinLength = 2
	OrgNameMaxLength = 120
	KeyNameMaxLength = 120
)

// emailFormat is a pragmatic shape check: one @, no spaces, a dot in the
// domain. Full RFC 5322 parsing rejects real addresses and accepts junk.
var emailFormat = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail returns the canonical stored form of an email address:
// trimmed and lowercased. Lookups must normalize the same way so
// Alice@Example.com and alice@example.com are one account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that an address is plausibly deliverable.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email must be at most 254 characters")
	}
	if !emailFormat.MatchString(email) {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the password length policy. Length is measured in
// bytes because that is what the hasher consumes.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	if len(password) > PasswordMaxLength {
		return fmt.Errorf("password must be at most %d characters", PasswordMaxLength)
	}
	return nil
}

// ValidateOrgName checks an organization name after trimming.
func ValidateOrgName(name string) error {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < OrgNameMinLength {
		return fmt.Errorf("organization name must be at least %d characters", OrgNameMinLength)
	}
	if n > OrgNameMaxLength {
		return fmt.Errorf("organization name must be at most %d characters", OrgNameMaxLength)
	}
	return nil
}

// ValidateKeyName checks an API key name after trimming.
func ValidateKeyName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("key name is required")
	}
	if utf8.RuneCountInString(name) > KeyNameMaxLength {
		return fmt.Errorf("key name must be at most %d characters", KeyNameMaxLength)
	}
	return nil
}

// ValidateExpiry checks that a requested API key expiry lies in the future.
func ValidateExpiry(expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return fmt.Errorf("expires_at must be in the future")
	}
	return nil
}
