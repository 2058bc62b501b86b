// Package services implements the business logic of the access gateway,
// coordinating the auth primitives, repositories, and audit trail beneath the
// HTTP layer. Each service owns one concern: credential resolution
// (IdentityService), role decisions (RBACService), dashboard accounts
// (UserService), organizations and membership (OrganizationService), and the
// API key lifecycle (APIKeyService). Services return the sentinel errors
// defined in errors.go; handlers map those to status codes.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/crypto"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/safego"
)

// lastUsedTouchTimeout bounds the background last_used_at write so a slow
// database cannot pile up goroutines behind a hot API key.
const lastUsedTouchTimeout = 5 * time.Second

// Identity is the result of credential resolution: the authenticated
// principal plus the per-minute capacity its requests are metered at.
// RPM is 0 for user principals, which means the configured default applies.
type Identity struct {
	Principal auth.Principal
	RPM       int
}

// IdentityService resolves request credentials into authenticated principals.
// Bearer tokens identify dashboard users; API keys identify org-scoped
// external consumers. Exactly one credential type is accepted per request.
type IdentityService struct {
	users *repositories.UserRepository
	keys  *repositories.APIKeyRepository
}

// NewIdentityService creates an identity service.
func NewIdentityService(users *repositories.UserRepository, keys *repositories.APIKeyRepository) *IdentityService {
	return &IdentityService{
		users: users,
		keys:  keys,
	}
}

// Resolve authenticates a request from its Authorization and X-API-Key header
// values. A request carrying a well-formed bearer header is resolved through
// the token path and any API key header is ignored; neither credential
// present is ErrUnauthenticated.
func (s *IdentityService) Resolve(ctx context.Context, authorization, apiKey string) (*Identity, error) {
	if token := bearerToken(authorization); token != "" {
		return s.resolveBearer(ctx, token)
	}
	if apiKey != "" {
		return s.resolveAPIKey(ctx, apiKey)
	}
	return nil, ErrUnauthenticated
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value, or returns "" when the header is absent or shaped differently.
func bearerToken(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authorization[len(prefix):])
}

func (s *IdentityService) resolveBearer(ctx context.Context, token string) (*Identity, error) {
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}
	if user == nil {
		// Subject deleted since the token was issued.
		return nil, ErrUserNotFound
	}

	return &Identity{
		Principal: auth.Principal{
			Kind:   auth.PrincipalUser,
			UserID: user.ID,
			Email:  user.Email,
		},
	}, nil
}

func (s *IdentityService) resolveAPIKey(ctx context.Context, key string) (*Identity, error) {
	// Malformed keys cannot match any stored digest; skip the round trip.
	if !auth.ValidKeyFormat(key) {
		return nil, ErrKeyNotFound
	}

	// The digest lookup always reads the current row (no cache), so a revoke
	// is observed by the very next authentication attempt.
	row, err := s.keys.GetAPIKeyByDigest(ctx, crypto.HashAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if row == nil {
		return nil, ErrKeyNotFound
	}
	if !row.IsActive {
		return nil, ErrKeyRevoked
	}
	if row.IsExpired(time.Now()) {
		return nil, ErrKeyExpired
	}

	s.touchLastUsed(row.ID)

	return &Identity{
		Principal: auth.Principal{
			Kind:  auth.PrincipalAPIKey,
			OrgID: row.OrganizationID,
			KeyID: row.ID,
		},
		RPM: row.OrgRateLimitRPM,
	}, nil
}

// touchLastUsed records key usage best-effort. It never blocks or fails the
// request that triggered it.
func (s *IdentityService) touchLastUsed(keyID string) {
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedTouchTimeout)
		defer cancel()

		if err := s.keys.UpdateLastUsed(ctx, keyID); err != nil {
			slog.Debug("failed to update api key last_used_at", "key_id", keyID, "error", err)
		}
	})
}
