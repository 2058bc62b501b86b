// principal.go defines the authenticated identity attached to a request after
// credential resolution: either a dashboard user (bearer token) or an
// org-scoped API key. Downstream middleware derives the rate-limit identity
// key from it, and the RBAC layer derives the membership lookup.
package auth

// PrincipalKind discriminates the two credential types.
type PrincipalKind string

const (
	// PrincipalUser is a dashboard user authenticated by bearer token.
	PrincipalUser PrincipalKind = "user"
	// PrincipalAPIKey is an external consumer authenticated by API key.
	PrincipalAPIKey PrincipalKind = "api_key"
)

// Principal is an authenticated identity.
type Principal struct {
	Kind PrincipalKind

	// UserID and Email are set for user principals.
	UserID string
	Email  string

	// OrgID and KeyID are set for API key principals.
	OrgID string
	KeyID string
}

// IsAPIKey reports whether the principal is an org-scoped API key.
func (p *Principal) IsAPIKey() bool {
	return p.Kind == PrincipalAPIKey
}

// RateLimitKey returns the identity component of the limiter's counter key.
// Users and API keys get independent counters even when the key belongs to an
// org the user is a member of.
func (p *Principal) RateLimitKey() string {
	if p.Kind == PrincipalAPIKey {
		return "apikey:" + p.KeyID
	}
	return "user:" + p.UserID
}
