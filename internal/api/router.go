package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/app"
	"github.com/charlesng35/carecoord/internal/handlers"
	"github.com/charlesng35/carecoord/internal/middleware"
	"github.com/charlesng35/carecoord/internal/monitoring"
	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/internal/services"
)

// Dependencies are the shared components the HTTP surface is built from.
type Dependencies struct {
	DB            *gorm.DB
	Config        *app.Config
	Tokens        middleware.TokenVerifier
	Hub           *realtime.Hub
	Notifications *services.NotificationService
	Messages      *services.MessageService
	Users         *services.UserService
	// Health overrides the default database and realtime probes.
	Health        *monitoring.Manager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.Tokens == nil:
		return fmt.Errorf("token verifier must be provided")
	case d.Hub == nil:
		return fmt.Errorf("realtime hub must be provided")
	case d.Notifications == nil || d.Messages == nil || d.Users == nil:
		return fmt.Errorf("notification, message and user services must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	health := deps.Health
	if health == nil {
		health = monitoring.NewManager(monitoring.DatabaseCheck(deps.DB, 0), monitoring.RealtimeCheck(deps.Hub))
	}
	r.GET("/health", handlers.Health(health))

	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Tokens)
	r.GET("/ws", realtimeHandler.Stream)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Tokens))

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}
	registerNotificationRoutes(api, notificationHandler)

	pushTokenHandler, err := handlers.NewPushTokenHandler(deps.Users)
	if err != nil {
		return nil, err
	}
	registerUserRoutes(api, pushTokenHandler)

	messageHandler, err := handlers.NewMessageHandler(deps.Messages)
	if err != nil {
		return nil, err
	}
	registerConversationRoutes(api, messageHandler)

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := prom.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
