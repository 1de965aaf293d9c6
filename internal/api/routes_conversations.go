package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/handlers"
)

func registerConversationRoutes(api *gin.RouterGroup, handler *handlers.MessageHandler) {
	group := api.Group("/conversations/:id")
	{
		group.GET("/messages", handler.List)
		group.POST("/messages", handler.Send)
		group.POST("/read", handler.MarkRead)
		group.DELETE("/messages/:messageId", handler.Delete)
	}
}
