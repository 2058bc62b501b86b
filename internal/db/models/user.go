// Package models - user.go defines the User model for platform accounts,
// identified by a normalized email address and an Argon2id password hash.
package models

import "time"

// User represents a user account in the system
type User struct {
	ID           string
	Email        string // Normalized: trimmed and lowercased before storage
	PasswordHash string // Argon2id PHC string, never exposed over the API
	CreatedAt    time.Time
}

// UserWithMemberships represents a user together with every organization
// they belong to, used by the profile endpoint.
type UserWithMemberships struct {
	User
	Memberships []UserMembership
}

// RoleIn returns the user's role name in the given organization, or ""
// when the user is not a member.
func (u *UserWithMemberships) RoleIn(orgID string) string {
	for _, m := range u.Memberships {
		if m.OrganizationID == orgID {
			return m.Role
		}
	}
	return ""
}
