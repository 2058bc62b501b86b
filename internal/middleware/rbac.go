// rbac.go provides the authorization gates that sit between authentication
// and the handlers. Role rules that depend on the mutation itself (owner
// grants, last-owner protection) live in the service layer where they can be
// re-validated inside the transaction; these gates cover principal-kind
// restrictions and the plain org-role minimums of read-only routes.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/services"
)

// RequireUserPrincipal rejects API-key principals. Dashboard-only routes
// (/auth/me) identify a person, which an org-scoped service credential is not.
func RequireUserPrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := Principal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if principal.IsAPIKey() {
			c.Set(DeniedReasonKey, "user_principal_required")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		c.Next()
	}
}

// RequireOrgRole enforces a minimum role in the organization named by the :id
// path parameter. RequireAuth must run earlier in the chain.
func RequireOrgRole(rbac *services.RBACService, min auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := Principal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		orgID := c.Param("id")
		if err := rbac.RequireRole(c.Request.Context(), principal, orgID, min); err != nil {
			switch {
			case errors.Is(err, services.ErrNotAMember):
				c.Set(DeniedReasonKey, "not_a_member")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Not a member of this organization",
				})
			case errors.Is(err, services.ErrInsufficientRole):
				c.Set(DeniedReasonKey, "insufficient_role")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Insufficient role",
				})
			default:
				slog.Error("role check failed", "org_id", orgID, "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
			return
		}

		c.Next()
	}
}
