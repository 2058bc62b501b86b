// errors.go defines the sentinel errors services return to the HTTP layer.
// Everything below the handlers speaks in these values (or wraps them with
// fmt.Errorf and %w), never in raw driver errors, so status mapping lives in
// exactly one place and error payloads never leak digests or SQL text.
package services

import (
	"errors"

	"github.com/smp-platform/access-gateway/internal/db/repositories"
)

// Authentication failures. All of them surface as 401 externally; they stay
// distinct internally so audit records can say why a credential was rejected.
var (
	// ErrUnauthenticated means the request carried no credential.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidToken covers bearer tokens that fail signature, expiry, or
	// structural checks.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrUserNotFound means a token subject or a looked-up email resolves to
	// no user row.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is the login failure. Unknown email and wrong
	// password produce the same value so the endpoint cannot be used to probe
	// which emails are registered.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrKeyNotFound means no API key matches the presented digest, or a
	// lifecycle operation referenced a key id outside the caller's org.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyRevoked means the key row exists but has been revoked.
	ErrKeyRevoked = errors.New("api key revoked")

	// ErrKeyExpired means the key row exists but its expiry has passed.
	ErrKeyExpired = errors.New("api key expired")
)

// Authorization failures (403).
var (
	// ErrNotAMember means the principal has no membership in the target org.
	// API keys are members only of their own org.
	ErrNotAMember = errors.New("not a member of this organization")

	// ErrInsufficientRole means the principal is a member but its role is
	// below the operation's minimum.
	ErrInsufficientRole = errors.New("insufficient role")
)

// ErrMemberNotFound means a membership mutation referenced a user who is not
// a member of the org (404).
var ErrMemberNotFound = errors.New("member not found")

// Throttling and infrastructure outcomes.
var (
	// ErrRateLimitExceeded means the identity exhausted its window capacity (429).
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreUnavailable means the counter store could not answer within its
	// bounded timeout. Under the fail-closed policy the limiter denies with
	// 503 rather than admitting unmetered traffic.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Storage invariants raised inside the repositories layer, aliased here so
// callers can match the whole taxonomy from one package with errors.Is.
var (
	// ErrDuplicateEmail maps the unique index on lower(email) (409).
	ErrDuplicateEmail = repositories.ErrDuplicateEmail

	// ErrDuplicateKeyDigest maps the unique index on api_keys.key_hash (409).
	ErrDuplicateKeyDigest = repositories.ErrDuplicateKeyDigest

	// ErrLastOwnerProtected rejects demoting or removing an organization's
	// last remaining owner (409).
	ErrLastOwnerProtected = repositories.ErrLastOwnerProtected
)
