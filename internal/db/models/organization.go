// Package models - organization.go defines the Organization model representing
// a tenant on the platform, including its per-org rate limit override.
package models

import "time"

// Organization represents a tenant organization
type Organization struct {
	ID           string
	Name         string
	RateLimitRPM int // Requests per minute for this org's API keys
	CreatedAt    time.Time
}
