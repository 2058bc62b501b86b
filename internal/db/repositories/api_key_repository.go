// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by digest, creation, revocation, expiry management, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/smp-platform/access-gateway/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey creates a new API key row. Only the digest is stored; the
// plaintext never reaches this layer. A digest collision (astronomically
// unlikely outside of a bug) surfaces as ErrDuplicateKeyDigest.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.IsActive = true
	apiKey.CreatedAt = time.Now()

	query := `
		INSERT INTO api_keys (id, organization_id, name, key_prefix, key_hash, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.OrganizationID,
		apiKey.Name,
		apiKey.KeyPrefix,
		apiKey.KeyHash,
		apiKey.IsActive,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
	)

	if isUniqueViolation(err) {
		return ErrDuplicateKeyDigest
	}

	return err
}

// GetAPIKeyByDigest retrieves an API key by its SHA-256 digest (for
// authentication), joined with the owning org's rate limit so the hot path
// stays a single indexed query. The row is returned regardless of is_active
// or expiry; the caller distinguishes revoked from expired for auditing.
func (r *APIKeyRepository) GetAPIKeyByDigest(ctx context.Context, digest string) (*models.APIKey, error) {
	query := `
		SELECT ak.id, ak.organization_id, ak.name, ak.key_prefix, ak.key_hash, ak.is_active,
		       ak.expires_at, ak.last_used_at, ak.expiry_notified_at, ak.created_at,
		       o.rate_limit_rpm
		FROM api_keys ak
		INNER JOIN organizations o ON ak.organization_id = o.id
		WHERE ak.key_hash = $1
	`

	apiKey := &models.APIKey{}
	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&apiKey.ID,
		&apiKey.OrganizationID,
		&apiKey.Name,
		&apiKey.KeyPrefix,
		&apiKey.KeyHash,
		&apiKey.IsActive,
		&apiKey.ExpiresAt,
		&apiKey.LastUsedAt,
		&apiKey.ExpiryNotifiedAt,
		&apiKey.CreatedAt,
		&apiKey.OrgRateLimitRPM,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return apiKey, nil
}

// ListAPIKeysByOrganization retrieves all API keys for an organization,
// newest first, including revoked and expired ones.
func (r *APIKeyRepository) ListAPIKeysByOrganization(ctx context.Context, orgID string) ([]*models.APIKey, error) {
	query := `
		SELECT id, organization_id, name, key_prefix, key_hash, is_active,
		       expires_at, last_used_at, expiry_notified_at, created_at
		FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		apiKey := &models.APIKey{}
		err := rows.Scan(
			&apiKey.ID,
			&apiKey.OrganizationID,
			&apiKey.Name,
			&apiKey.KeyPrefix,
			&apiKey.KeyHash,
			&apiKey.IsActive,
			&apiKey.ExpiresAt,
			&apiKey.LastUsedAt,
			&apiKey.ExpiryNotifiedAt,
			&apiKey.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	query := `
		UPDATE api_keys
		SET last_used_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, keyID, time.Now())
	return err
}

// RevokeAPIKey soft-deletes an API key scoped to its organization. The update
// matches already-revoked rows too, so revoking twice is a no-op success.
// Returns false when no key with that id exists in the organization.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, orgID, keyID string) (bool, error) {
	query := `
		UPDATE api_keys
		SET is_active = false
		WHERE id = $1 AND organization_id = $2
	`

	res, err := r.db.ExecContext(ctx, query, keyID, orgID)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// FindExpiringKeys returns active API keys that will expire within warningDays
// days and have not yet been warned about (expiry_notified_at IS NULL).
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	cutoff := time.Now().Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `
		SELECT id, organization_id, name, key_prefix, key_hash, is_active,
		       expires_at, last_used_at, expiry_notified_at, created_at
		FROM api_keys
		WHERE is_active = true
		  AND expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= $1
		  AND expiry_notified_at IS NULL
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k := &models.APIKey{}
		err := rows.Scan(
			&k.ID, &k.OrganizationID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.IsActive,
			&k.ExpiresAt, &k.LastUsedAt, &k.ExpiryNotifiedAt, &k.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkExpiryNotificationSent records that the expiry warning was sent for a key,
// preventing duplicate emails on subsequent job runs.
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET expiry_notified_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), keyID)
	return err
}
