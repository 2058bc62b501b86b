// Package dashboard implements the authenticated management HTTP handlers for
// the access gateway: account signup and login, organizations and their member
// lists, the API key lifecycle, and the org audit trail. Every route here sits
// behind the request gate in internal/api/router.go: authentication, rate
// limiting, and audit recording happen before a handler runs. Role checks for
// mutations live in the service layer, not here, so they hold even when a
// service is driven by something other than HTTP.
package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/middleware"
	"github.com/smp-platform/access-gateway/internal/services"
	"github.com/smp-platform/access-gateway/internal/validation"
)

// APIKeyHandlers handles org-scoped API key lifecycle endpoints
type APIKeyHandlers struct {
	keys *services.APIKeyService
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys *services.APIKeyService) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name      string  `json:"name" binding:"required"`
	ExpiresAt *string `json:"expires_at"` // RFC3339 format
}

// CreateAPIKeyResponse represents the response when creating an API key
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"` // Only returned once during creation
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// @Summary      Create API key
// @Description  Issue a new API key for the organization. Requires admin or owner role. The full key is only returned once during creation; only its digest is stored.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Organization ID"
// @Param        body  body  CreateAPIKeyRequest  true  "API key creation request"
// @Success      201  {object}  CreateAPIKeyResponse  "API key created (full key returned once)"
// @Failure      400  {object}  map[string]interface{}  "Invalid name or expires_at"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member or insufficient role"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/api-keys [post]
// CreateAPIKeyHandler issues a new API key for an organization
// POST /api/v1/orgs/:id/api-keys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		orgID := c.Param("id")

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		if err := validation.ValidateKeyName(req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		// Parse expiration if provided
		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid expires_at format. Use RFC3339",
				})
				return
			}
			if err := validation.ValidateExpiry(parsed); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": err.Error(),
				})
				return
			}
			expiresAt = &parsed
		}

		key, plaintext, err := h.keys.Create(c.Request.Context(), principal, orgID, req.Name, expiresAt)
		if err != nil {
			respondError(c, err)
			return
		}

		// Return full key (only time it's visible)
		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			Key:       plaintext, // IMPORTANT: Only returned once
			KeyPrefix: key.KeyPrefix,
			ExpiresAt: key.ExpiresAt,
			CreatedAt: key.CreatedAt,
		})
	}
}

// @Summary      List API keys
// @Description  List every key ever issued for the organization, newest first, including revoked and expired keys. Requires membership. Responses carry the display prefix only, never the key or its digest.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "List of API keys"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member of this organization"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/api-keys [get]
// ListAPIKeysHandler lists the organization's API keys
// GET /api/v1/orgs/:id/api-keys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		keys, err := h.keys.List(c.Request.Context(), principal, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		// Map keys to a JSON-friendly shape; the digest is never serialized
		resp := make([]gin.H, 0, len(keys))
		for _, k := range keys {
			resp = append(resp, gin.H{
				"id":           k.ID,
				"name":         k.Name,
				"key_prefix":   k.KeyPrefix,
				"is_active":    k.IsActive,
				"expires_at":   k.ExpiresAt,
				"last_used_at": k.LastUsedAt,
				"created_at":   k.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"keys": resp,
		})
	}
}

// @Summary      Revoke API key
// @Description  Deactivate an API key, effective for the very next authentication attempt. Requires admin or owner role. Revoking an already revoked key succeeds; the row is retained for audit.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        id      path  string  true  "Organization ID"
// @Param        key_id  path  string  true  "API key ID"
// @Success      200  {object}  map[string]interface{}  "Revocation confirmation"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member or insufficient role"
// @Failure      404  {object}  map[string]interface{}  "API key not found in this organization"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/api-keys/{key_id} [delete]
// RevokeAPIKeyHandler revokes an API key
// DELETE /api/v1/orgs/:id/api-keys/:key_id
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if err := h.keys.Revoke(c.Request.Context(), principal, c.Param("id"), c.Param("key_id")); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "API key revoked",
		})
	}
}
