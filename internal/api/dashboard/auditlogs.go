// auditlogs.go implements the org-scoped audit log listing endpoint. The
// router restricts it to organization admins; this handler only parses
// filters and pages through the audit repository.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
)

// AuditLogHandlers contains handlers for reading audit logs
type AuditLogHandlers struct {
	audit *repositories.AuditRepository
}

// NewAuditLogHandlers creates a new AuditLogHandlers
func NewAuditLogHandlers(audit *repositories.AuditRepository) *AuditLogHandlers {
	return &AuditLogHandlers{audit: audit}
}

// @Summary      List audit logs
// @Description  List audit log entries recorded for an organization, newest first, with optional filters.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id             path   string  true   "Organization ID"
// @Param        action         query  string  false  "Filter by action, e.g. auth.login"
// @Param        resource_type  query  string  false  "Filter by resource type, e.g. api_key"
// @Param        user_id        query  string  false  "Filter by acting user ID"
// @Param        start_date     query  string  false  "Only entries at or after this RFC3339 timestamp"
// @Param        end_date       query  string  false  "Only entries at or before this RFC3339 timestamp"
// @Param        limit          query  int     false  "Maximum results to return (default 50, max 200)"
// @Param        offset         query  int     false  "Offset for pagination (default 0)"
// @Success      200  {object}  map[string]interface{}  "logs: [], total, limit, offset"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      401  {object}  map[string]interface{}  "Authentication required"
// @Failure      403  {object}  map[string]interface{}  "Insufficient role"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/audit-logs [get]
// ListAuditLogsHandler handles audit log listing
// Implements: GET /api/v1/orgs/:id/audit-logs
func (h *AuditLogHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("id")

		filters := repositories.AuditFilters{
			OrganizationID: &orgID,
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("start_date"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid start_date format. Use RFC3339",
				})
				return
			}
			filters.StartDate = &t
		}
		if v := c.Query("end_date"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid end_date format. Use RFC3339",
				})
				return
			}
			filters.EndDate = &t
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 200 {
			limit = 50 // Default to 50, max 200
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		logs, total, err := h.audit.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		results := make([]gin.H, len(logs))
		for i, entry := range logs {
			results[i] = gin.H{
				"id":              entry.ID,
				"user_id":         entry.UserID,
				"organization_id": entry.OrganizationID,
				"action":          entry.Action,
				"resource_type":   entry.ResourceType,
				"resource_id":     entry.ResourceID,
				"metadata":        entry.Metadata,
				"ip_address":      entry.IPAddress,
				"created_at":      entry.CreatedAt,
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   results,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
