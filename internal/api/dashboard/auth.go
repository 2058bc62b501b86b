// auth.go implements HTTP handlers for password signup, login, and the
// current-user profile.
package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/config"
	"github.com/smp-platform/access-gateway/internal/middleware"
	"github.com/smp-platform/access-gateway/internal/services"
	"github.com/smp-platform/access-gateway/internal/telemetry"
	"github.com/smp-platform/access-gateway/internal/validation"
)

// AuthHandlers handles account authentication endpoints
type AuthHandlers struct {
	cfg   *config.Config
	users *services.UserService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, users *services.UserService) *AuthHandlers {
	return &AuthHandlers{
		cfg:   cfg,
		users: users,
	}
}

// SignupRequest represents the request to register an account
type SignupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest represents the request to exchange a password for a token
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Register account
// @Description  Create a dashboard user account. The email is normalized (trimmed, lowercased) before storage; registering the same address with different casing is a conflict.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  SignupRequest  true  "Signup request"
// @Success      201  {object}  map[string]interface{}  "Created account (id, email, created_at)"
// @Failure      400  {object}  map[string]interface{}  "Invalid email or password"
// @Failure      403  {object}  map[string]interface{}  "Public signup disabled"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/auth/signup [post]
// SignupHandler registers a dashboard user account
// POST /api/v1/auth/signup
func (h *AuthHandlers) SignupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.cfg.Auth.AllowPublicSignup {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Public signup is disabled",
			})
			return
		}

		var req SignupRequest
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
		if err := validation.ValidatePassword(req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		user, err := h.users.Signup(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}

		// Attribute the audit record to the account that was just created.
		c.Set("user_id", user.ID)

		c.JSON(http.StatusCreated, gin.H{
			"id":         user.ID,
			"email":      user.Email,
			"created_at": user.CreatedAt,
		})
	}
}

// @Summary      Login
// @Description  Exchange email and password for a bearer token. Unknown email and wrong password return the same error so the endpoint cannot probe which addresses are registered.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Login request"
// @Success      200  {object}  map[string]interface{}  "access_token, token_type, expires_in"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/auth/login [post]
// LoginHandler exchanges a password credential for a bearer token
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		token, user, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "failure").Inc()
			respondError(c, err)
			return
		}
		telemetry.AuthAttemptsTotal.WithLabelValues("password", "success").Inc()

		// Attribute the audit record to the account that logged in.
		c.Set("user_id", user.ID)

		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   "bearer",
			"expires_in":   int(h.cfg.Auth.JWTExpiry().Seconds()),
		})
	}
}

// @Summary      Get current user
// @Description  Return the authenticated user's account and organization memberships. Bearer tokens only; an API key is not a person and is rejected upstream.
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user and memberships"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/auth/me [get]
// MeHandler returns the current user's profile and memberships
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		profile, err := h.users.Profile(c.Request.Context(), principal.UserID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":         profile.ID,
				"email":      profile.Email,
				"created_at": profile.CreatedAt,
			},
			"memberships": profile.Memberships,
		})
	}
}
