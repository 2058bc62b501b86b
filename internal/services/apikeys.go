// apikeys.go implements the API key lifecycle: issuance with one-time
// plaintext disclosure, listing, and idempotent revocation.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/db/models"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/telemetry"
)

// APIKeyService manages org-scoped API keys.
type APIKeyService struct {
	keys *repositories.APIKeyRepository
	rbac *RBACService
	env  string
}

// NewAPIKeyService creates an API key service. env tags issued keys as
// auth.EnvLive or auth.EnvTest.
func NewAPIKeyService(keys *repositories.APIKeyRepository, rbac *RBACService, env string) *APIKeyService {
	return &APIKeyService{
		keys: keys,
		rbac: rbac,
		env:  env,
	}
}

// Create issues a new API key for the org. Minimum role admin. The returned
// plaintext is disclosed exactly once here; only its SHA-256 digest and
// display prefix are stored.
func (s *APIKeyService) Create(ctx context.Context, principal *auth.Principal, orgID, name string, expiresAt *time.Time) (*models.APIKey, string, error) {
	if err := s.rbac.RequireRole(ctx, principal, orgID, auth.RoleAdmin); err != nil {
		return nil, "", err
	}

	plaintext, digest, prefix, err := auth.GenerateAPIKey(s.env)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &models.APIKey{
		OrganizationID: orgID,
		Name:           strings.TrimSpace(name),
		KeyPrefix:      prefix,
		KeyHash:        digest,
		ExpiresAt:      expiresAt,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	telemetry.APIKeysIssuedTotal.Inc()
	return key, plaintext, nil
}

// List returns every key ever issued for the org, newest first. Any member
// may list. Responses carry the display prefix, never digest or plaintext.
func (s *APIKeyService) List(ctx context.Context, principal *auth.Principal, orgID string) ([]*models.APIKey, error) {
	if err := s.rbac.RequireRole(ctx, principal, orgID, auth.RoleMember); err != nil {
		return nil, err
	}

	keys, err := s.keys.ListAPIKeysByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Revoke deactivates a key, effective for the very next digest lookup.
// Minimum role admin. Revoking an already revoked key succeeds (idempotent);
// a key id that does not exist in the org is ErrKeyNotFound.
func (s *APIKeyService) Revoke(ctx context.Context, principal *auth.Principal, orgID, keyID string) error {
	if err := s.rbac.RequireRole(ctx, principal, orgID, auth.RoleAdmin); err != nil {
		return err
	}

	found, err := s.keys.RevokeAPIKey(ctx, orgID, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if !found {
		return ErrKeyNotFound
	}

	telemetry.APIKeysRevokedTotal.Inc()
	return nil
}
