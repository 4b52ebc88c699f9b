package router

import (
	"net/http"
	"os"

	"duo-chat/backend/internal/api"
	"duo-chat/backend/pkg/config"
	"duo-chat/backend/pkg/di"
	"duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// request id first so the access log can carry it
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	if cfg.Security.MaxBodySize > 0 {
		engine.MaxMultipartMemory = cfg.Security.MaxBodySize
	}

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
		KeyFunc:        middleware.ClientKey,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		rateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, r.Logger, r.Config.JWT.CookieName)

	authHandler := api.NewAuthHandler(c.AuthService, api.CookieOptions{
		Name:   r.Config.JWT.CookieName,
		Secure: r.Config.JWT.CookieSecure,
	}, r.Logger)
	userHandler := api.NewUserHandler(c.UserService, c.MessageRouter)
	messageHandler := api.NewMessageHandler(c.MessageRouter, c.MediaService)

	r.setupHealthRoutes()
	r.setupStaticRoutes()

	// The session gateway authenticates its own handshake and is not rate
	// limited per request; submits are limited per session instead.
	r.Engine.GET("/ws", c.Gateway.Handle)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(r.rateLimiter.Middleware())

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/logout", authHandler.Logout)
		authRoutes.GET("/me", jwtAuth, authHandler.Me)
	}

	protected := v1.Group("")
	protected.Use(jwtAuth)
	{
		users := protected.Group("/users")
		users.GET("/search", userHandler.Search)
		users.GET("/conversations", userHandler.Conversations)
		users.POST("/profile", userHandler.UpdateProfile)

		messages := protected.Group("/messages")
		messages.GET("/:chatId", messageHandler.History)
		messages.POST("", messageHandler.Submit)
		messages.POST("/media", messageHandler.SubmitMedia)

		protected.POST("/media", messageHandler.UploadMedia)
	}
}

// setupStaticRoutes serves uploaded files when blobs live on local disk
func (r *Router) setupStaticRoutes() {
	local := r.Container.LocalBlobs
	if local == nil {
		return
	}
	prefix := r.Config.Blob.PublicPrefix
	if prefix == "" {
		prefix = "/uploads"
	}
	r.Engine.Static(prefix, local.BasePath())
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.rateLimiter.Stop()
}

func version() string {
	return lo.CoalesceOrEmpty(os.Getenv("APP_VERSION"), "dev")
}

// corsMiddleware echoes allowed origins and answers preflight requests
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || lo.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowAll || lo.Contains(allowed, origin)) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, X-Request-ID, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
