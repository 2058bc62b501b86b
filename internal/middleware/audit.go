// audit.go records security-relevant requests to the audit trail: who acted,
// on what, from where, and with what outcome. The recorder runs before
// RequireAuth in the chain so denied requests are observed too; it reads the
// identity context after c.Next() returns, by which time authentication has
// populated it (or recorded why it refused to).
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/audit"
	"github.com/smp-platform/access-gateway/internal/config"
	"github.com/smp-platform/access-gateway/internal/db/models"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/safego"
)

// auditWriteTimeout bounds the background audit write.
const auditWriteTimeout = 5 * time.Second

// AuditMiddleware writes an audit_logs row (and ships to external
// destinations when a shipper is configured) for requests the config selects:
// successful writes always, reads when log_read_operations, denials and other
// failures when log_failed_requests. Writes are asynchronous and best-effort;
// the response never waits for the trail.
func AuditMiddleware(repo *repositories.AuditRepository, shipper audit.Shipper, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		if status >= 400 {
			if !cfg.LogFailedRequests {
				return
			}
		} else if c.Request.Method == http.MethodGet && !cfg.LogReadOperations {
			return
		}

		entry := buildAuditLog(c, status)

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()

			if repo != nil {
				if err := repo.CreateAuditLog(ctx, entry); err != nil {
					slog.Warn("failed to write audit log", "action", entry.Action, "error", err)
				}
			}
			if shipper != nil {
				if err := shipper.Ship(ctx, shipperEntry(entry)); err != nil {
					slog.Warn("failed to ship audit log", "action", entry.Action, "error", err)
				}
			}
		})
	}
}

// buildAuditLog assembles the audit row from the request and the identity
// context left behind by the gate middleware.
func buildAuditLog(c *gin.Context, status int) *models.AuditLog {
	action, resourceType, resourceID := auditAction(c)
	ip := c.ClientIP()

	entry := &models.AuditLog{
		Action:    action,
		IPAddress: &ip,
		Metadata:  map[string]interface{}{"status_code": status},
	}
	if resourceType != "" {
		entry.ResourceType = &resourceType
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}

	if userID := c.GetString("user_id"); userID != "" {
		entry.UserID = &userID
	}
	if orgID := c.GetString("organization_id"); orgID != "" {
		entry.OrganizationID = &orgID
	} else if orgID := c.Param("id"); orgID != "" {
		entry.OrganizationID = &orgID
	}

	if method := c.GetString("auth_method"); method != "" {
		entry.Metadata["auth_method"] = method
	}
	if keyID := c.GetString("api_key_id"); keyID != "" {
		entry.Metadata["api_key_id"] = keyID
	}
	if reason := c.GetString(DeniedReasonKey); reason != "" {
		entry.Metadata["denied_reason"] = reason
	}
	if requestID := c.GetString(RequestIDKey); requestID != "" {
		entry.Metadata["request_id"] = requestID
	}

	return entry
}

// auditAction names the action from the matched route template. Unmatched
// routes fall back to "METHOD /raw/path".
func auditAction(c *gin.Context) (action, resourceType, resourceID string) {
	method := c.Request.Method
	switch c.FullPath() {
	case "/api/v1/auth/signup":
		return "auth.signup", "user", ""
	case "/api/v1/auth/login":
		return "auth.login", "user", ""
	case "/api/v1/orgs":
		if method == http.MethodPost {
			return "org.create", "organization", ""
		}
		return "org.list", "organization", ""
	case "/api/v1/orgs/:id/members":
		if method == http.MethodPost {
			return "member.upsert", "membership", ""
		}
		return "member.list", "membership", ""
	case "/api/v1/orgs/:id/members/:user_id":
		return "member.remove", "membership", c.Param("user_id")
	case "/api/v1/orgs/:id/api-keys":
		if method == http.MethodPost {
			return "apikey.create", "api_key", ""
		}
		return "apikey.list", "api_key", ""
	case "/api/v1/orgs/:id/api-keys/:key_id":
		return "apikey.revoke", "api_key", c.Param("key_id")
	default:
		return method + " " + c.Request.URL.Path, "", ""
	}
}

// shipperEntry converts the stored row into the wire form shippers emit.
func shipperEntry(row *models.AuditLog) *audit.LogEntry {
	entry := &audit.LogEntry{
		Timestamp: time.Now(),
		Action:    row.Action,
		Metadata:  row.Metadata,
	}
	if row.UserID != nil {
		entry.UserID = *row.UserID
	}
	if row.OrganizationID != nil {
		entry.OrganizationID = *row.OrganizationID
	}
	if row.ResourceType != nil {
		entry.ResourceType = *row.ResourceType
	}
	if row.ResourceID != nil {
		entry.ResourceID = *row.ResourceID
	}
	if row.IPAddress != nil {
		entry.IPAddress = *row.IPAddress
	}
	if method, ok := row.Metadata["auth_method"].(string); ok {
		entry.AuthMethod = method
	}
	if status, ok := row.Metadata["status_code"].(int); ok {
		entry.StatusCode = status
	}
	return entry
}
