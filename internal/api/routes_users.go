package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.PushTokenHandler) {
	me := api.Group("/users/me")
	{
		me.PUT("/push-token", handler.Set)
		me.DELETE("/push-token", handler.Clear)
	}
}
