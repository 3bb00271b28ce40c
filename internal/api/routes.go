package api

import (
	"alcyxob/fitness-sessions/internal/domain" // Needed for RoleMiddleware
	"alcyxob/fitness-sessions/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteConfig carries the auth settings the routes need.
type RouteConfig struct {
	JWTSecret string
	JWTIssuer string
}

func SetupRoutes(router *gin.Engine, cfg RouteConfig, schedulingService service.SchedulingService) {
	sessionHandler := NewSessionHandler(schedulingService)
	authMiddleware := AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer)
	adminOnly := RoleMiddleware(domain.RoleAdmin)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			userIDStr, err := getUserIDFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to get user ID from token")
				return
			}
			role, _ := getUserRoleFromContext(c)
			c.JSON(http.StatusOK, gin.H{"userId": userIDStr, "role": role})
		})

		// --- Session Routes ---
		sessionGroup := protected.Group("/sessions")
		{
			sessionGroup.GET("", sessionHandler.ListSessions)
			sessionGroup.POST("", adminOnly, sessionHandler.CreateSession)
			sessionGroup.POST("/recurring", adminOnly, sessionHandler.CreateRecurringSeries)

			sessionGroup.GET("/:sessionId", sessionHandler.GetSessionDetail)
			sessionGroup.DELETE("/:sessionId", adminOnly, sessionHandler.DeleteSession)

			// Lifecycle
			sessionGroup.POST("/:sessionId/cancel", adminOnly, sessionHandler.CancelSession)
			sessionGroup.POST("/:sessionId/live", RoleMiddleware(domain.RoleAdmin, domain.RoleTrainer), sessionHandler.MarkSessionLive)
			sessionGroup.POST("/:sessionId/complete", RoleMiddleware(domain.RoleAdmin, domain.RoleTrainer), sessionHandler.CompleteSession)

			// Assignment
			sessionGroup.PUT("/:sessionId/trainer", adminOnly, sessionHandler.AssignTrainer)
			sessionGroup.POST("/:sessionId/clients", adminOnly, sessionHandler.BatchAssignClients)
			sessionGroup.DELETE("/:sessionId/clients/:clientId", adminOnly, sessionHandler.RemoveClient)
			sessionGroup.GET("/:sessionId/eligible-clients", adminOnly, sessionHandler.ListEligibleClients)

			sessionGroup.POST("/:sessionId/cover-upload-url", adminOnly, sessionHandler.CreateCoverUploadURL)
		}

		// --- Trainer Specific Routes ---
		trainerApiGroup := protected.Group("/trainer")
		trainerApiGroup.Use(RoleMiddleware(domain.RoleTrainer))
		{
			trainerApiGroup.GET("/sessions", sessionHandler.GetTrainerSessions)
		}
	}
}
