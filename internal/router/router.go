package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"intent-backend/internal/config"
	"intent-backend/internal/handlers"
	"intent-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS middleware
// Priority: Environment Variable > YAML Config > Default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		var allowedOrigins []string
		var allowCredentials = true
		var maxAge = 3600

		envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if envOrigins != "" {
			origins := strings.Split(envOrigins, ",")
			allowedOrigins = make([]string, 0, len(origins))
			for _, o := range origins {
				trimmed := strings.TrimSpace(o)
				if trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		} else {
			allowedOrigins = []string{"*"}
		}

		originAllowed := func() bool {
			for _, allowedOrigin := range allowedOrigins {
				if strings.TrimSpace(allowedOrigin) == origin {
					return true
				}
			}
			return false
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			if originAllowed() {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": allowedOrigins,
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Handlers groups everything the router needs to mount
type Handlers struct {
	Auth      *handlers.AuthHandler
	AdminAuth *handlers.AdminAuthHandler
	Intents   *handlers.IntentHandlers
	Admin     *handlers.AdminHandlers
}

func SetupRouter(h Handlers) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	logger := logrus.New()
	var allowedIPs []string
	if config.AppConfig != nil && len(config.AppConfig.Admin.AllowedIPs) > 0 {
		allowedIPs = config.AppConfig.Admin.AllowedIPs
		logger.WithFields(logrus.Fields{
			"allowed_ips": allowedIPs,
			"count":       len(allowedIPs),
		}).Info("Admin API IP whitelist configured")
	}

	localhostOnly := middleware.NewLocalhostOnly(logger, allowedIPs)
	ownerAuth := middleware.NewAuthMiddleware(logger)
	adminAuth := middleware.NewAdminAuthMiddleware(logger)

	// ============ Health Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "intent-backend",
		})
	})

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Auth ============
	auth := r.Group("/api/auth")
	{
		auth.GET("/nonce", h.Auth.GenerateNonceHandler)
		auth.POST("/login", h.Auth.AuthenticateHandler)
	}
	r.POST("/admin/login", localhostOnly.Restrict(), h.AdminAuth.AdminLoginHandler)

	// ============ Intent Lifecycle (owner token required) ============
	api := r.Group("/api", ownerAuth.RequireAuth())
	{
		api.POST("/intents/deposit", h.Intents.RequestDepositHandler)
		api.POST("/intents/withdraw", h.Intents.RequestWithdrawHandler)
		api.POST("/intents/:intentId/cancel", h.Intents.CancelDepositHandler)
		api.POST("/intents/:intentId/refund", h.Intents.ClaimRefundHandler)
		api.GET("/intents/:intentId", h.Intents.GetIntentHandler)
		api.GET("/receipts", h.Intents.ListReceiptsHandler)
		api.GET("/ws", h.Intents.WebSocketHandler)
	}

	// ============ Admin (IP whitelist + admin token) ============
	admin := r.Group("/admin", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
	{
		admin.GET("/intents", h.Intents.ListIntentsHandler)
		admin.POST("/sweep", h.Admin.ForceSweepHandler)
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message":    "Endpoint not found",
			"path":       c.Request.URL.Path,
			"suggestion": "Check /api endpoints for available APIs",
		})
	})

	return r
}
