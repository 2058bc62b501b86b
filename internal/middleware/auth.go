// Package middleware provides the Gin HTTP middleware for the access gateway:
// authentication, identity rate limiting, principal gates, security headers,
// and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logging → CORS → SecurityHeaders
//
// and per protected route group:
//
//	Audit → RequireAuth → RateLimit → (RequireOrgRole | RequireUserPrincipal) → Handler
//
// Authentication runs before rate limiting so unauthenticated traffic never
// consumes an identity's quota. Rate limiting runs before authorization so
// throttled requests never reach membership checks or handler side effects.
// The audit recorder wraps the whole chain so denied requests are observed
// alongside successful ones.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/services"
	"github.com/smp-platform/access-gateway/internal/telemetry"
)

const (
	// APIKeyHeader carries the static API key credential of external consumers.
	APIKeyHeader = "X-API-Key"

	// PrincipalKey is the gin.Context key under which RequireAuth stores the
	// resolved *auth.Principal.
	PrincipalKey = "principal"

	// RateLimitRPMKey is the gin.Context key holding the per-minute capacity
	// of the resolved identity; 0 means the configured default applies.
	RateLimitRPMKey = "rate_limit_rpm"

	// DeniedReasonKey is the gin.Context key under which denial sites record
	// why a request was rejected, for the audit trail.
	DeniedReasonKey = "denied_reason"
)

// RequireAuth authenticates the request through the identity service and
// stores the resolved principal in the gin context. Exactly one credential
// type is consumed per request: a Bearer Authorization header wins over an
// X-API-Key header. All resolution failures map to 401 with a generic
// message; the precise reason goes to the audit trail only.
func RequireAuth(identity *services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := presentedCredential(c)

		resolved, err := identity.Resolve(c.Request.Context(), c.GetHeader("Authorization"), c.GetHeader(APIKeyHeader))
		if err != nil {
			status, msg, reason := authDenial(err)
			if kind != "" {
				telemetry.AuthAttemptsTotal.WithLabelValues(kind, "failure").Inc()
			}
			if status == http.StatusInternalServerError {
				slog.Error("credential resolution failed", "error", err)
			} else {
				slog.Debug("authentication rejected", "reason", reason, "ip", c.ClientIP())
			}
			c.Set(DeniedReasonKey, reason)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		telemetry.AuthAttemptsTotal.WithLabelValues(kind, "success").Inc()

		principal := resolved.Principal
		c.Set(PrincipalKey, &principal)
		c.Set(RateLimitRPMKey, resolved.RPM)
		c.Set("auth_method", kind)
		if principal.IsAPIKey() {
			c.Set("api_key_id", principal.KeyID)
			c.Set("organization_id", principal.OrgID)
		} else {
			c.Set("user_id", principal.UserID)
		}

		c.Next()
	}
}

// Principal returns the authenticated principal stored by RequireAuth.
func Principal(c *gin.Context) (*auth.Principal, bool) {
	v, exists := c.Get(PrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}

// presentedCredential names the credential kind the request carries, mirroring
// the precedence the identity service applies. Empty when no credential is
// present.
func presentedCredential(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return "bearer"
	}
	if c.GetHeader(APIKeyHeader) != "" {
		return "api_key"
	}
	if authz != "" {
		return "bearer"
	}
	return ""
}

// authDenial maps an identity resolution failure to its HTTP response and the
// reason recorded in the audit trail. Externally every credential problem is
// the same 401; revoked vs expired vs unknown is distinguishable only in the
// audit log.
func authDenial(err error) (status int, msg, reason string) {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, "Authentication required", "missing_credentials"
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid or expired token", "invalid_token"
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusUnauthorized, "Invalid or expired token", "user_not_found"
	case errors.Is(err, services.ErrKeyNotFound):
		return http.StatusUnauthorized, "Invalid API key", "key_not_found"
	case errors.Is(err, services.ErrKeyRevoked):
		return http.StatusUnauthorized, "Invalid API key", "key_revoked"
	case errors.Is(err, services.ErrKeyExpired):
		return http.StatusUnauthorized, "Invalid API key", "key_expired"
	default:
		return http.StatusInternalServerError, "Authentication failed", "internal_error"
	}
}
