package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/handlers"
	"github.com/charlesng35/carecoord/internal/middleware"
	"github.com/charlesng35/carecoord/internal/models"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/counts", handler.Counts)
		group.POST("/mark-all-read", handler.MarkAllRead)
		group.GET("/ai-risk/daily",
			middleware.RequireRole(models.RoleHospital, models.RoleCaregiver, models.RoleNurse, models.RoleFamily, models.RoleSuperAdmin),
			handler.DailyAIRisk,
		)

		group.PATCH("/:id/read", handler.MarkRead)
		group.PATCH("/:id/ack", handler.Acknowledge)
		group.DELETE("/:id", handler.Delete)
	}
}
