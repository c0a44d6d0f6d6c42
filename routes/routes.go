package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "repa/controllers"
	"repa/middleware"
	"repa/monitor"
	"repa/utils"
)

// Deps carries the shared pipeline components the handlers need. Built once
// in main so the HTTP layer and the background worker drive the same
// orchestrator and ledger.
type Deps struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Service   *monitor.Service
	Ledger    *monitor.Ledger
	Hub       *controller.MonitorHub
	OpenAI    *utils.OpenAIClient
	Firecrawl *utils.FirecrawlClient
}

func SetupAuthRoutes(app *fiber.App, deps Deps) {
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App, deps Deps) {
	criteriaController := controller.NewCriteriaController(deps.DB, deps.Logger)
	chatController := controller.NewChatController(deps.DB, deps.OpenAI, deps.Firecrawl, deps.Logger)
	monitorController := controller.NewMonitorController(deps.Service, deps.Ledger, deps.Logger)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Criteria routes
	criteria := api.Group("/criteria")
	criteria.Get("/", criteriaController.GetCriteria)
	criteria.Post("/", criteriaController.SaveCriteria)
	criteria.Put("/", criteriaController.SaveCriteria)

	// Chat route
	api.Post("/chat", chatController.Chat)

	// Monitoring routes; the manual check is rate limited per user
	mon := api.Group("/monitor")
	mon.Post("/check", middleware.ManualCheckLimiter(), monitorController.CheckEmail)
	mon.Get("/analyses", monitorController.GetAnalyses)

	// WebSocket route for live analysis status
	mon.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	mon.Get("/ws", websocket.New(controller.HandleMonitorWS(deps.Hub)))
}

func SetupRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, deps)
	SetupAPIRoutes(app, deps)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
