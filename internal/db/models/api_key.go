// Package models defines the database model types for the access gateway.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the service layer, query logic in the repositories layer.
package models

import "time"

// APIKey represents an org-owned API key credential. The plaintext key is
// shown exactly once at creation; only its SHA-256 digest is stored.
type APIKey struct {
	ID               string
	OrganizationID   string
	Name             string     // Friendly name (e.g., "CI/CD Pipeline Key")
	KeyPrefix        string     // First 12 chars for display (e.g., "smp_live_abc")
	KeyHash          string     // SHA-256 hex digest of the full key
	IsActive         bool       // false once revoked; revocation is permanent
	ExpiresAt        *time.Time // Optional expiration
	LastUsedAt       *time.Time // Updated best-effort on successful authentication
	ExpiryNotifiedAt *time.Time // Set when the expiry warning was sent
	CreatedAt        time.Time
	// Joined fields (not stored in api_keys table)
	OrgRateLimitRPM int // Owning org's rate limit, joined on the authentication path
}

// IsExpired reports whether the key's expiration has passed at the given time.
// Keys without an expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// Usable reports whether the key can authenticate requests at the given time:
// it must be active (not revoked) and not expired.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}
