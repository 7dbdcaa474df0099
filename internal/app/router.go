package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/handlers"
	"github.com/kolesa/kolesa/backend/go-services/internal/catalog"
	"github.com/kolesa/kolesa/backend/go-services/internal/conversations"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/locations"
	"github.com/kolesa/kolesa/backend/go-services/internal/media"
	"github.com/kolesa/kolesa/backend/go-services/internal/moderation"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/internal/payments"
	"github.com/kolesa/kolesa/backend/go-services/internal/support"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/middleware"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const Version = "1.0.0"

var startTime = time.Now()

// Router builds the HTTP engine with every route of the API.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	response.UseJSONFieldNames()

	r := gin.New()
	r.Use(
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.RequestID(),
		middleware.RequestLogger(),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			logger.Errorf("panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
			response.Fail(c, http.StatusInternalServerError, "internal server error")
		}),
		middleware.Metrics(),
	)

	// Global limiter, per user when authenticated, otherwise per IP.
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && a.Redis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(a.Redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	handlers.RegisterIndex(r, cfg.App.Name, Version)
	handlers.RegisterSwagger(r)
	r.GET("/health", a.health)
	r.GET("/ready", a.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var cacheClient *redis.Client
	if cfg.Cache.Enabled {
		cacheClient = a.Redis
	}

	api := r.Group("/api")
	var external handlers.ExternalLogin
	if a.Keycloak != nil {
		external = a.Keycloak
	}
	handlers.NewAuthHandler(cfg, a.Users, a.Sessions, a.Verification, external, a.Verifier).Register(api)
	handlers.NewUsersHandler(a.Users, a.Sessions, a.Listings, a.Verifier).Register(api)
	catalog.NewHandler(a.Catalog, cacheClient, cfg.Cache.TTL).Register(api)
	locations.NewHandler(a.Locations, cacheClient, cfg.Cache.TTL).Register(api)
	listing.NewHandler(a.Listings, a.Verifier).Register(api)
	media.NewHandler(a.Media, a.Verifier).WithRedisLimits(a.Redis).Register(api)
	conversations.NewHandler(a.Conversations, a.Hub, a.Verifier).Register(api)
	notifications.NewHandler(a.Notifications, a.Verifier).Register(api)
	payments.NewHandler(a.Payments, a.Verifier).Register(api)
	support.NewHandler(a.Support, a.Verifier).Register(api)
	moderation.NewHandler(a.Moderation, a.Admin, a.Verifier).Register(api)

	r.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, "resource not found")
	})
	return r
}

func (a *App) health(c *gin.Context) {
	h := a.Admin.SystemHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":    h.Status,
		"checks":    h.Checks,
		"timestamp": h.Timestamp,
		"version":   Version,
		"uptime":    time.Since(startTime).Round(time.Second).String(),
	})
}

// ready reports 503 until the primary store answers. The in-memory
// fallback is always ready.
func (a *App) ready(c *gin.Context) {
	storage := "memory"
	status, code := "ready", http.StatusOK
	if a.Mongo != nil {
		storage = "mongodb"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.Mongo.Ping(ctx, nil); err != nil {
			logger.Warnf("ready: mongodb ping: %v", err)
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":  status,
		"storage": storage,
		"redis":   a.Redis != nil,
		"objects": a.Store.Provider(),
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	})
}
