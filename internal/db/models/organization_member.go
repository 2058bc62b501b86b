// Package models - organization_member.go defines models for user-to-organization
// membership, including the assigned role and enriched views joining user details.
package models

import "time"

// OrganizationMember represents a user's membership in an organization
type OrganizationMember struct {
	OrganizationID string
	UserID         string
	Role           string // "member", "admin", or "owner"
	CreatedAt      time.Time
}

// OrganizationMemberWithUser includes user details for member listings
type OrganizationMemberWithUser struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UserEmail      string    `json:"user_email"`
}

// UserMembership includes organization details for a user's membership
type UserMembership struct {
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Role             string    `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
}
