package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"repa/config"
	controller "repa/controllers"
	"repa/metrics"
	"repa/middleware"
	"repa/monitor"
	"repa/routes"
	"repa/utils"
	"repa/worker"
)

func main() {
	logger := log.New(os.Stdout, "REPA: ", log.Ldate|log.Ltime|log.Lshortfile)

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.JSONFormatter{})

	// Pipeline components, shared by the HTTP layer and the worker
	openaiClient := utils.NewOpenAIClient(
		config.AppConfig.OpenAIAPIKey,
		config.AppConfig.OpenAIBaseURL,
		config.AppConfig.OpenAIModel,
	)
	firecrawlClient := utils.NewFirecrawlClient(
		config.AppConfig.FirecrawlAPIKey,
		config.AppConfig.FirecrawlBaseURL,
	)
	ledger := monitor.NewLedger(config.DB, appLogger, config.AppConfig.StrictLedgerWrites)
	orchestrator := monitor.NewOrchestrator(
		ledger,
		firecrawlClient,
		openaiClient,
		appLogger,
		config.AppConfig.MaxImages,
		config.AppConfig.AnalysisConcurrency,
	)
	hub := controller.NewMonitorHub(appLogger)
	orchestrator.SetNotifier(hub)
	scanner := monitor.NewScanner(config.AppConfig.ListingDomains, appLogger)
	service := monitor.NewService(ledger, scanner, orchestrator, appLogger)

	app := fiber.New()
	app.Use(middleware.CORS())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitorWorker := worker.NewMonitorWorker(ledger, service, log.New(os.Stdout, "MONITOR: ", log.LstdFlags))
	go monitorWorker.Start(ctx)

	if config.AppConfig.MetricsPort != "" {
		go func() {
			if err := metrics.Serve(":" + config.AppConfig.MetricsPort); err != nil {
				logger.Printf("Metrics listener failed: %v", err)
			}
		}()
	}

	routes.SetupRoutes(app, routes.Deps{
		DB:        config.DB,
		Logger:    appLogger,
		Service:   service,
		Ledger:    ledger,
		Hub:       hub,
		OpenAI:    openaiClient,
		Firecrawl: firecrawlClient,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
