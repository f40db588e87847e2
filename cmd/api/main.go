package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/crypto/bcrypt"

	"github.com/genstudio/backend/internal/config"
	"github.com/genstudio/backend/internal/database"
	"github.com/genstudio/backend/internal/handlers"
	"github.com/genstudio/backend/internal/middleware"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/services"
	"github.com/genstudio/backend/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user if not exists
	seedAdminUser()

	// Persistence and quota accounting
	st := store.NewGormStore(database.DB)
	ledger := quota.NewLedger(st, cfg.DailyTokenLimit, cfg.DailyImageLimit, cfg.QuotaTimezone)
	selector := quota.NewSelector(st, ledger)

	// Provider clients
	arkClient := provider.NewArkClient(cfg.ArkBaseURL)
	geminiClient := provider.NewGeminiClient()

	// Local image store for conversational generations
	storage, err := services.NewImageStorage(filepath.Join(cfg.DataDir, "banana"))
	if err != nil {
		log.Fatalf("Failed to initialize image storage: %v", err)
	}

	syncer := services.NewSynchronizer(st, ledger, arkClient)
	dispatcher := services.NewDispatcher(st, ledger, selector, syncer, arkClient, arkClient, geminiClient, storage)

	// Background services
	poller := services.NewPoller(st, syncer, time.Duration(cfg.PollIntervalSeconds)*time.Second)
	poller.Start()

	retention := services.NewRetentionService(st, cfg.UsageRetentionDays, ledger.Location())
	retention.Start()

	backupService := services.NewBackupService(cfg, st)
	backupService.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "GenStudio API v1.0",
		ServerHeader: "GenStudio",
		BodyLimit:    50 * 1024 * 1024, // 50MB, reference images arrive inline
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "genstudio-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg)
	twoFAHandler := handlers.NewTwoFAHandler()
	accountHandler := handlers.NewAccountHandler(st, ledger)
	taskHandler := handlers.NewTaskHandler(st, dispatcher, syncer)
	imageHandler := handlers.NewImageHandler(st, dispatcher, syncer)
	bananaHandler := handlers.NewBananaHandler(st, dispatcher, syncer, storage)
	backupHandler := handlers.NewBackupHandler(cfg, backupService)

	// API routes
	api := app.Group("/api")

	// Apply rate limiting to API routes (100 requests per minute by default)
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Public routes
	api.Post("/auth/login", authHandler.Login)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired(cfg))

	// Auth routes
	protected.Post("/auth/logout", authHandler.Logout)
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/auth/refresh", authHandler.RefreshToken)
	protected.Put("/auth/password", authHandler.ChangePassword)

	// 2FA routes
	protected.Get("/auth/2fa/status", twoFAHandler.Status)
	protected.Post("/auth/2fa/setup", twoFAHandler.Setup)
	protected.Post("/auth/2fa/verify", twoFAHandler.Verify)
	protected.Post("/auth/2fa/disable", twoFAHandler.Disable)

	// Account routes
	accounts := protected.Group("/accounts")
	accounts.Get("/", accountHandler.List)
	accounts.Get("/:id", accountHandler.Get)
	accounts.Post("/", accountHandler.Create)
	accounts.Put("/:id", accountHandler.Update)
	accounts.Delete("/:id", accountHandler.Delete)

	// Video task routes
	tasks := protected.Group("/tasks")
	tasks.Post("/estimate", taskHandler.Estimate)
	tasks.Post("/", taskHandler.Create)
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:task_id", taskHandler.Get)
	tasks.Post("/:task_id/sync", taskHandler.Sync)
	tasks.Delete("/:task_id", taskHandler.Delete)

	// Image task routes
	images := protected.Group("/images")
	images.Post("/estimate", imageHandler.Estimate)
	images.Post("/", imageHandler.Create)
	images.Get("/", imageHandler.List)
	images.Get("/:task_id", imageHandler.Get)
	images.Delete("/:task_id", imageHandler.Delete)

	// Conversational image routes
	banana := protected.Group("/banana")
	banana.Post("/", bananaHandler.Create)
	banana.Get("/", bananaHandler.List)
	banana.Get("/storage", bananaHandler.StorageStats)
	banana.Post("/:task_id/continue", bananaHandler.Continue)
	banana.Get("/:task_id", bananaHandler.Get)
	banana.Delete("/:task_id", bananaHandler.Delete)

	// Backup routes
	backups := protected.Group("/backups")
	backups.Get("/", backupHandler.List)
	backups.Post("/", backupHandler.Create)
	backups.Get("/:filename/download", backupHandler.Download)
	backups.Delete("/:filename", backupHandler.Delete)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		poller.Stop()
		retention.Stop()
		backupService.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting GenStudio API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedAdminUser() {
	var count int64
	database.DB.Model(&models.User{}).Count(&count)

	if count == 0 {
		log.Println("Creating default admin user...")

		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)

		admin := models.User{
			Username:            "admin",
			Password:            string(hashedPassword),
			Email:               "admin@genstudio.local",
			FullName:            "System Administrator",
			ForcePasswordChange: true,
			IsActive:            true,
		}

		if err := database.DB.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created successfully (username: admin, password: admin123)")
		}
	}
}
