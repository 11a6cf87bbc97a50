package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/accounts-auth/internal/config"
	"github.com/smallbiznis/accounts-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/accounts-auth/internal/http/middleware"
	"github.com/smallbiznis/accounts-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, userHandler *handler.UserHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/request-reset", authHandler.RequestReset)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	users := r.Group("/users")
	{
		users.POST("", userHandler.Create)
		users.GET("", authMiddleware.ValidateJWT, userHandler.List)
		users.GET("/:id", authMiddleware.ValidateJWT, userHandler.Get)
		users.PUT("/:id", authMiddleware.ValidateJWT, userHandler.Update)
		users.DELETE("/:id", authMiddleware.ValidateJWT, userHandler.Delete)
	}

	return r
}
