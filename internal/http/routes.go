package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/pollbox/pollbox/internal/config"
	"github.com/pollbox/pollbox/internal/ws"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, env *Env, hub *ws.Hub, cfg config.Config) {
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	writeLimit := RateLimitMiddleware(limiter)
	authed := RequireAuth(env.Auth)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", writeLimit, env.Register)
			authGroup.POST("/login", env.Login)
			authGroup.POST("/logout", authed, env.Logout)
			authGroup.GET("/me", authed, env.Me)
		}

		pollGroup := api.Group("/polls")
		{
			pollGroup.POST("", authed, writeLimit, env.CreatePoll)
			pollGroup.GET("/:id", env.GetPoll)
			pollGroup.GET("/:id/results", env.GetResults)
			pollGroup.PUT("/:id", authed, env.UpdatePoll)
			pollGroup.DELETE("/:id", authed, env.DeletePoll)
			pollGroup.POST("/:id/responses", OptionalAuth(env.Auth), env.SubmitResponse)
			pollGroup.POST("/:id/ballots/anonymous", writeLimit, env.SubmitAnonymousBallot)
		}

		api.GET("/dashboard/polls", authed, env.MyPolls)
	}

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(hub, c.Writer, c.Request)
	})

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
}
