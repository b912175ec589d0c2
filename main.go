package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"coursebank/config"
	"coursebank/middleware"
	"coursebank/routes"
	"coursebank/utils"
)

func main() {
	logger := log.New(os.Stdout, "COURSEBANK: ", log.Ldate|log.Ltime|log.Lshortfile)

	bootstrap := flag.Bool("bootstrap", false, "seed site configuration and the staff account, then exit")
	flag.Parse()

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting is optional; a missing DSN just disables it
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if *bootstrap {
		if err := config.Bootstrap(config.DB); err != nil {
			logger.Fatalf("Bootstrap failed: %v", err)
		}
		return
	}

	// The special-exams integration resolves the credit service by name
	if config.AppConfig.EnableSpecialExams {
		utils.SetRuntimeService("credit", utils.CreditService{DB: config.DB})
	}

	// Create Fiber app
	app := fiber.New()

	app.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(app, config.DB)

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
