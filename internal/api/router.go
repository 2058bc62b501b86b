// Package api wires together all HTTP routes for the access gateway.
//
// Route grouping philosophy:
//   - /api/v1/auth/signup and /api/v1/auth/login are public. They exist to
//     establish an identity, so they sit behind the per-IP GCRA throttle
//     instead of the identity rate limiter.
//   - Everything else under /api/v1 passes the request gate in fixed order:
//     authenticate → rate-limit the resolved identity → org-scoped role gate
//     where the route requires one → handler. Unauthenticated traffic never
//     consumes an identity's quota; throttled traffic never reaches
//     authorization checks or handler side effects.
//   - /health, /ready, and /version are operational and unauthenticated.
//     Prometheus metrics and pprof bind to side ports in cmd/server and are
//     never served from this listener.
//
// Most role rules live in the service layer where they can be re-validated
// inside the mutation transaction; the router attaches middleware gates only
// for principal-kind restrictions (/auth/me) and read-only role minimums
// (/orgs/:id/audit-logs).
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/smp-platform/access-gateway/internal/api/dashboard"
	"github.com/smp-platform/access-gateway/internal/audit"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/config"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/jobs"
	"github.com/smp-platform/access-gateway/internal/middleware"
	"github.com/smp-platform/access-gateway/internal/services"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	expiryNotifier *jobs.KeyExpiryNotifier
	auditShipper   audit.Shipper
}

// Shutdown stops all background goroutines and flushes the audit shipper. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)

	// Wrap *sql.DB with sqlx for the membership repository
	sqlxDB := sqlx.NewDb(db, "postgres")
	memberRepo := repositories.NewMembershipRepository(sqlxDB)

	// Initialize services
	identity := services.NewIdentityService(userRepo, apiKeyRepo)
	rbac := services.NewRBACService(memberRepo)
	userService := services.NewUserService(userRepo, memberRepo, cfg.Auth.JWTExpiry())
	orgService := services.NewOrganizationService(orgRepo, userRepo, memberRepo, rbac, cfg.RateLimit.DefaultRPM)
	keyService := services.NewAPIKeyService(apiKeyRepo, rbac, auth.DefaultKeyEnv())

	// Initialize the external audit shipper from config. A misconfigured
	// shipper is a deployment error, not something to silently run without.
	shipper, err := newAuditShipper(&cfg.Audit)
	if err != nil {
		slog.Error("failed to initialize audit shippers", "error", err)
		os.Exit(1)
	}

	// Initialize and start the API key expiry notifier
	expiryNotifier := jobs.NewKeyExpiryNotifier(apiKeyRepo, memberRepo, &cfg.Notifications)
	go expiryNotifier.Start(context.Background())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db, rdb))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db, rdb, cfg))

	// API version
	router.GET("/version", versionHandler())

	// Initialize dashboard handlers
	authHandlers := dashboard.NewAuthHandlers(cfg, userService)
	orgHandlers := dashboard.NewOrgHandlers(orgService)
	keyHandlers := dashboard.NewAPIKeyHandlers(keyService)
	auditLogHandlers := dashboard.NewAuditLogHandlers(auditRepo)

	// Initialize rate limiter over the shared counter store
	limiter := middleware.NewRateLimiter(rdb, cfg)

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no auth required, but throttled
		// per client IP so credential stuffing can't grind the login path)
		authGroup := apiV1.Group("/auth")
		if cfg.Audit.Enabled {
			authGroup.Use(middleware.AuditMiddleware(auditRepo, shipper, &cfg.Audit))
		}
		authGroup.Use(middleware.AuthThrottle(rdb, cfg))
		{
			authGroup.POST("/signup", authHandlers.SignupHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// Authenticated endpoints. The audit recorder wraps the whole chain so
		// denied requests are observed alongside successful ones.
		protected := apiV1.Group("")
		if cfg.Audit.Enabled {
			protected.Use(middleware.AuditMiddleware(auditRepo, shipper, &cfg.Audit))
		}
		protected.Use(middleware.RequireAuth(identity))
		if cfg.RateLimit.Enabled {
			protected.Use(middleware.RateLimitMiddleware(limiter))
		}
		{
			// Current-user endpoint identifies a person, so API key
			// principals are rejected
			protected.GET("/auth/me", middleware.RequireUserPrincipal(), authHandlers.MeHandler())

			// Credential check for any principal kind
			protected.GET("/whoami", whoamiHandler())

			// Organizations and membership. Role rules (admin minimum, owner
			// grants, last-owner protection) are enforced in the service layer
			// inside the mutation transaction.
			orgsGroup := protected.Group("/orgs")
			{
				orgsGroup.POST("", orgHandlers.CreateOrganizationHandler())
				orgsGroup.GET("", orgHandlers.ListOrganizationsHandler())
				orgsGroup.GET("/:id/members", orgHandlers.ListMembersHandler())
				orgsGroup.POST("/:id/members", orgHandlers.AddMemberHandler())
				orgsGroup.DELETE("/:id/members/:user_id", orgHandlers.RemoveMemberHandler())

				// API key lifecycle
				orgsGroup.POST("/:id/api-keys", keyHandlers.CreateAPIKeyHandler())
				orgsGroup.GET("/:id/api-keys", keyHandlers.ListAPIKeysHandler())
				orgsGroup.DELETE("/:id/api-keys/:key_id", keyHandlers.RevokeAPIKeyHandler())

				// Audit trail is read-only, so the role minimum is a router
				// gate rather than a service rule
				orgsGroup.GET("/:id/audit-logs",
					middleware.RequireOrgRole(rbac, auth.RoleAdmin),
					auditLogHandlers.ListAuditLogsHandler())
			}
		}
	}

	bg := &BackgroundServices{
		expiryNotifier: expiryNotifier,
		auditShipper:   shipper,
	}

	return router, bg
}

// newAuditShipper builds the fan-out shipper from the audit config. Returns a
// nil Shipper when audit logging is disabled or no destinations are
// configured; the middleware treats nil as database-only recording.
func newAuditShipper(cfg *config.AuditConfig) (audit.Shipper, error) {
	if !cfg.Enabled || len(cfg.Shippers) == 0 {
		return nil, nil
	}

	configs := make([]audit.ShipperConfig, 0, len(cfg.Shippers))
	for _, sc := range cfg.Shippers {
		configs = append(configs, shipperConfig(sc))
	}

	ms, err := audit.NewMultiShipper(configs)
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// shipperConfig converts one config-file shipper block into the audit
// package's own config type, so internal/audit stays independent of the
// config layer.
func shipperConfig(sc config.AuditShipperConfig) audit.ShipperConfig {
	out := audit.ShipperConfig{
		Enabled: sc.Enabled,
		Type:    sc.Type,
	}
	if sc.Syslog != nil {
		out.Syslog = &audit.SyslogConfig{
			Network:  sc.Syslog.Network,
			Address:  sc.Syslog.Address,
			Tag:      sc.Syslog.Tag,
			Facility: sc.Syslog.Facility,
		}
	}
	if sc.Webhook != nil {
		out.Webhook = &audit.WebhookConfig{
			URL:           sc.Webhook.URL,
			Headers:       sc.Webhook.Headers,
			Timeout:       time.Duration(sc.Webhook.TimeoutSecs) * time.Second,
			BatchSize:     sc.Webhook.BatchSize,
			FlushInterval: time.Duration(sc.Webhook.FlushInterval) * time.Second,
		}
	}
	if sc.File != nil {
		out.File = &audit.FileConfig{
			Path:       sc.File.Path,
			MaxSizeMB:  sc.File.MaxSizeMB,
			MaxBackups: sc.File.MaxBackups,
		}
	}
	return out
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database and rate limit store connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, checks per dependency, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, checks per dependency"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			healthy = false
		} else {
			checks["database"] = "healthy"
		}

		// Check the rate limit counter store
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy"
			healthy = false
		} else {
			checks["redis"] = "healthy"
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"checks": checks,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity, and the rate limit store when its outage would deny requests.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks per dependency, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks per dependency, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), the counter store gates readiness only
// when limiting is enabled and fail-closed, because that is the combination
// where a Redis outage actually turns requests into 503s.
func readinessHandler(db *sql.DB, rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if cfg.RateLimit.Enabled && !cfg.RateLimit.FailOpen {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "rate limit store not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// @Summary      Identify the calling principal
// @Description  Returns the authenticated identity attached to the request: the user id for bearer principals, or the organization and key ids for API key principals.
// @Tags         Auth
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "kind, auth_method, user_id | organization_id + api_key_id"
// @Failure      401  {object}  map[string]interface{}  "Authentication required"
// @Router       /api/v1/whoami [get]
// whoamiHandler reports the resolved identity. This is the canonical
// credential check for API consumers wiring up a new key.
// GET /api/v1/whoami
func whoamiHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		resp := gin.H{
			"kind":        string(principal.Kind),
			"auth_method": c.GetString("auth_method"),
		}
		if principal.IsAPIKey() {
			resp["organization_id"] = principal.OrgID
			resp["api_key_id"] = principal.KeyID
		} else {
			resp["user_id"] = principal.UserID
			resp["email"] = principal.Email
		}

		c.JSON(http.StatusOK, resp)
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID := c.GetString(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", requestID),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-API-Key")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
