package server

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-backend/internal/generations"
	"cv-backend/internal/services/health"
	"cv-backend/internal/shared/config"
	"cv-backend/internal/shared/metrics"
	"cv-backend/internal/shared/server/middleware"
	"cv-backend/internal/shared/server/respond"
)

// RouterDeps lists the handlers mounted on the router.
type RouterDeps struct {
	Config            config.Config
	GenerationHandler *generations.Handler
	Health            *health.Service
	RateLimiter       *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.BodyLimit(deps.Config.MaxBodyBytes),
	)

	r.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	r.GET("/metrics", metrics.Handler())

	if deps.GenerationHandler != nil {
		var limit []gin.HandlerFunc
		if deps.Config.RateLimitRPS > 0 {
			limit = append(limit, middleware.RateLimit(middleware.RateLimitConfig{
				Rule: middleware.RateLimitRule{
					Rate:  deps.Config.RateLimitRPS,
					Burst: deps.Config.RateLimitBurst,
				},
				Limiter: deps.RateLimiter,
			}))
		}
		deps.GenerationHandler.RegisterRoutes(&r.RouterGroup, limit...)
	}

	r.NoRoute(func(c *gin.Context) {
		respond.Error(c, http.StatusNotFound, "not_found", "Not Found")
	})

	return r
}

// Addr joins host and port into a listen address.
func Addr(host, port string) string {
	if port == "" {
		port = "8000"
	}
	if port[0] == ':' {
		port = port[1:]
	}
	return net.JoinHostPort(host, port)
}
