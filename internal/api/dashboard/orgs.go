// orgs.go implements HTTP handlers for organization creation and membership
// management. The owner-grant and last-owner rules are enforced by
// services.OrganizationService; these handlers translate requests and map
// outcomes to statuses.
package dashboard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/middleware"
	"github.com/smp-platform/access-gateway/internal/services"
	"github.com/smp-platform/access-gateway/internal/validation"
)

// OrgHandlers handles organization and membership endpoints
type OrgHandlers struct {
	orgs *services.OrganizationService
}

// NewOrgHandlers creates a new OrgHandlers instance
func NewOrgHandlers(orgs *services.OrganizationService) *OrgHandlers {
	return &OrgHandlers{orgs: orgs}
}

// CreateOrgRequest represents the request to create an organization
type CreateOrgRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddMemberRequest represents the request to add or update a member by email
type AddMemberRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// @Summary      Create organization
// @Description  Create an organization with the caller as its first owner. Requires a user principal; API keys cannot create organizations.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrgRequest  true  "Organization creation request"
// @Success      201  {object}  map[string]interface{}  "Created organization"
// @Failure      400  {object}  map[string]interface{}  "Invalid name"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "API key principals cannot create organizations"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs [post]
// CreateOrganizationHandler creates an organization owned by the caller
// POST /api/v1/orgs
func (h *OrgHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req CreateOrgRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		if err := validation.ValidateOrgName(req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		org, err := h.orgs.Create(c.Request.Context(), principal, req.Name)
		if err != nil {
			respondError(c, err)
			return
		}

		// Attribute the audit record to the organization that was just created.
		c.Set("organization_id", org.ID)

		c.JSON(http.StatusCreated, gin.H{
			"id":             org.ID,
			"name":           org.Name,
			"rate_limit_rpm": org.RateLimitRPM,
			"created_at":     org.CreatedAt,
		})
	}
}

// @Summary      List organizations
// @Description  List the organizations the caller belongs to, with the caller's role in each. An API key sees its own organization with the service role.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "List of memberships"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs [get]
// ListOrganizationsHandler lists the caller's organizations
// GET /api/v1/orgs
func (h *OrgHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		memberships, err := h.orgs.ListForPrincipal(c.Request.Context(), principal)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organizations": memberships,
		})
	}
}

// @Summary      List members
// @Description  List the organization's members with emails and roles. Requires membership (any role).
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "List of members"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member of this organization"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/members [get]
// ListMembersHandler lists an organization's members
// GET /api/v1/orgs/:id/members
func (h *OrgHandlers) ListMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		members, err := h.orgs.ListMembers(c.Request.Context(), principal, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"members": members,
		})
	}
}

// @Summary      Add or update member
// @Description  Add a user to the organization by email, or change an existing member's role. Requires admin; granting owner or changing a current owner's role requires owner. Demoting the last owner is rejected.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Organization ID"
// @Param        body  body  AddMemberRequest  true  "Member email and role"
// @Success      200  {object}  map[string]interface{}  "Resulting membership"
// @Failure      400  {object}  map[string]interface{}  "Invalid email or role"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member or insufficient role"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Failure      409  {object}  map[string]interface{}  "Would demote the last owner"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/members [post]
// AddMemberHandler adds a user to the org or updates their role
// POST /api/v1/orgs/:id/members
func (h *OrgHandlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		if err := validation.ValidateEmail(req.Email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		role, err := auth.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid role. Must be one of: " + strings.Join(auth.ValidRoleNames(), ", "),
			})
			return
		}

		member, err := h.orgs.AddOrUpdateMember(c.Request.Context(), principal, c.Param("id"), req.Email, role)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"member": member,
		})
	}
}

// @Summary      Remove member
// @Description  Remove a membership. Requires admin; removing an owner requires owner; removing the last owner is rejected.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        id       path  string  true  "Organization ID"
// @Param        user_id  path  string  true  "User ID of the member to remove"
// @Success      200  {object}  map[string]interface{}  "Removal confirmation"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not a member or insufficient role"
// @Failure      404  {object}  map[string]interface{}  "Member not found"
// @Failure      409  {object}  map[string]interface{}  "Would remove the last owner"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/orgs/{id}/members/{user_id} [delete]
// RemoveMemberHandler removes a member from the organization
// DELETE /api/v1/orgs/:id/members/:user_id
func (h *OrgHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if err := h.orgs.RemoveMember(c.Request.Context(), principal, c.Param("id"), c.Param("user_id")); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Member removed",
		})
	}
}
