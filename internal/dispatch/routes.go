package dispatch

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meetfocus/focus/internal/health"
	"github.com/meetfocus/focus/internal/middleware"
	"github.com/meetfocus/focus/internal/ratelimit"
)

// Router assembles the Gin engine for a Dispatcher, grounded on
// `cmd_teacher/v1/session/main.go`'s route-group layout: CORS, recovery,
// correlation ID, then feature route groups, plus /metrics and /health.
func (d *Dispatcher) Router(allowedOrigins []string, limiter *ratelimit.Limiter, healthHandler *health.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, middleware.HeaderXCorrelationID, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if healthHandler != nil {
		router.GET("/health/live", healthHandler.Liveness)
		router.GET("/health/ready", healthHandler.Readiness)
	}

	auth := router.Group("/auth")
	{
		auth.POST("/login-url", d.LoginURL)
		auth.POST("/logout", d.Logout)
	}

	conferences := router.Group("/conferences")
	if limiter != nil {
		conferences.Use(limiter.AllocateConferenceMiddleware())
	}
	{
		conferences.POST("/:roomId/join", d.RequireAuth(), d.AllocateConference)
		conferences.POST("/:roomId/leave", d.LeaveConference)
		conferences.POST("/:roomId/mute", d.Mute)
		conferences.POST("/:roomId/moderation", d.RequireAuth(), d.AVModeration)

		dialOutGroup := conferences.Group("/:roomId")
		if limiter != nil {
			dialOutGroup.Use(limiter.DialOutMiddleware())
		}
		dialOutGroup.POST("/dial-out", d.DialOut)
		dialOutGroup.POST("/recording", d.RequireAuth(), d.StartRecording)
		dialOutGroup.POST("/streaming", d.RequireAuth(), d.StartStreaming)
	}

	sessions := router.Group("/sessions")
	{
		sessions.POST("/:sessionId/stop", d.StopSession)
	}

	return router
}
