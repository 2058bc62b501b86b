// respond.go maps service-layer errors onto stable HTTP responses. Handlers
// never inspect error text; every failure funnels through respondError so a
// given sentinel always produces the same status and message, and internals
// (SQL text, digests) never reach a payload.
package dashboard

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/middleware"
	"github.com/smp-platform/access-gateway/internal/services"
)

// respondError writes the response for a service error. Denials also record a
// machine-readable reason in the request context for the audit trail.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		c.Set(middleware.DeniedReasonKey, "invalid_credentials")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "User not found",
		})
	case errors.Is(err, services.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Member not found",
		})
	case errors.Is(err, services.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "API key not found",
		})
	case errors.Is(err, services.ErrNotAMember):
		c.Set(middleware.DeniedReasonKey, "not_a_member")
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Not a member of this organization",
		})
	case errors.Is(err, services.ErrInsufficientRole):
		c.Set(middleware.DeniedReasonKey, "insufficient_role")
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Insufficient role",
		})
	case errors.Is(err, services.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Email already registered",
		})
	case errors.Is(err, services.ErrDuplicateKeyDigest):
		c.JSON(http.StatusConflict, gin.H{
			"error": "API key already exists",
		})
	case errors.Is(err, services.ErrLastOwnerProtected):
		c.Set(middleware.DeniedReasonKey, "last_owner_protected")
		c.JSON(http.StatusConflict, gin.H{
			"error": "Organization must retain at least one owner",
		})
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}
}
