package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/infrastructure/chat"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"github.com/sentinel/console/internal/transport/http/handlers"
	httpmw "github.com/sentinel/console/internal/transport/http/middleware"
)

type RouterConfig struct {
	Logger   *logger.Logger
	Config   *config.Config
	Tasks    ports.TaskQueue
	Notifier ports.Notifier
	Hub      *chat.Hub
	Metrics  *metrics.Collector
	Store    handlers.Pinger
	Ready    handlers.ReadinessProbe
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	activeWindow := cfg.Config.Scheduler.ActiveInstanceWindow
	if activeWindow <= 0 {
		activeWindow = 10 * time.Minute
	}

	taskHandler := handlers.NewTaskHandler(cfg.Tasks, activeWindow, cfg.Logger)
	webhookHandler := handlers.NewWebhookHandler(cfg.Notifier, cfg.Logger)
	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.Ready)

	app.Get("/health", healthHandler.Health)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	// Chat gateway
	if cfg.Hub != nil {
		chatHandler := handlers.NewChatHandler(cfg.Hub, cfg.Logger)
		app.Use("/ws", httpmw.APIKeyAuth(cfg.Config), func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return c.SendStatus(fiber.StatusUpgradeRequired)
		})
		app.Get("/ws/chat", websocket.New(chatHandler.Handle))
	}

	// Webhooks
	webhooks := app.Group("/webhook", httpmw.APIKeyAuth(cfg.Config))
	webhooks.Post("/watchtower", webhookHandler.Watchtower)
	webhooks.Post("/jellyseerr", webhookHandler.Jellyseerr)

	api := app.Group("/api", httpmw.APIKeyAuth(cfg.Config))

	// Task routes
	tasks := api.Group("/tasks")
	tasks.Get("/", taskHandler.ListPending)
	tasks.Post("/", taskHandler.CreateTask)
	tasks.Get("/next", taskHandler.NextTask)
	tasks.Get("/completed", taskHandler.ListCompleted)
	tasks.Get("/:id", taskHandler.GetTask)
	tasks.Post("/:id/claim", taskHandler.ClaimTask)
	tasks.Post("/:id/complete", taskHandler.CompleteTask)
	tasks.Post("/:id/cancel", taskHandler.CancelTask)

	// Instance routes
	instances := api.Group("/instances")
	instances.Get("/", taskHandler.ListInstances)
	instances.Post("/heartbeat", taskHandler.Heartbeat)

	api.Get("/stats", taskHandler.Stats)
}
