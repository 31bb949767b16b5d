package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"file-service/internal/config"
	"file-service/internal/constants"
	"file-service/internal/database"
	"file-service/internal/routes"
	"file-service/internal/services"
	"file-service/internal/storage"
	"file-service/internal/versioning"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	pkgConfig "github.com/kerimovok/go-pkg-utils/config"
	pkgValidator "github.com/kerimovok/go-pkg-utils/validator"
)

// cfg is built once in init and handed to the constructors in main.
var cfg *config.Config

func init() {
	// Load configuration first: it pulls in .env, which must happen before
	// the environment is validated
	loaded, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg = loaded

	// Validate environment variables
	if err := pkgValidator.ValidateConfig(constants.EnvValidationRules); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}

	// Connect to database
	if err := database.ConnectDB(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
}

func setupApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		// Leave room for multipart framing on top of the largest allowed file
		BodyLimit: int(cfg.MaxFileSizeBytes) + 10*1024*1024,
	})

	// Middleware
	app.Use(helmet.New())
	app.Use(cors.New())
	app.Use(compress.New())
	app.Use(healthcheck.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return uuid.New().String()
		},
	}))
	app.Use(logger.New())

	return app
}

// newBackend constructs the storage backend named by the configuration.
// The choice is made exactly once; there is no runtime fallback.
func newBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Provider {
	case config.ProviderMinio:
		m := cfg.Storage.Minio
		return storage.NewMinioBackend(storage.MinioOptions{
			Endpoint:             m.Endpoint,
			Region:               m.Region,
			AccessKey:            m.AccessKey,
			SecretKey:            m.SecretKey,
			Bucket:               m.Bucket,
			UseSSL:               m.UseSSL,
			ServerSideEncryption: m.ServerSideEncryption,
			PublicBase:           m.PublicBase,
		})
	default:
		return storage.NewLocalBackend(cfg.Storage.Local.UploadDir, cfg.Storage.Local.BaseURL)
	}
}

func main() {
	// Initialize storage backend
	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage backend: %v", err)
	}
	log.Printf("Storage backend initialized: %s", cfg.Storage.Provider)

	// Wire up the pipeline
	fileService := services.NewFileService(cfg, backend, versioning.NewManager(backend))

	// Setup Fiber app
	app := setupApp(cfg)

	// Serve local uploads directly when using filesystem storage
	if cfg.Storage.Provider == config.ProviderLocal {
		app.Static(cfg.Storage.Local.BaseURL, cfg.Storage.Local.UploadDir)
	}

	// Setup routes
	routes.SetupRoutes(app, fileService, cfg)

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Gracefully shutting down...")

		// Shutdown the server
		if err := app.Shutdown(); err != nil {
			log.Printf("error during server shutdown: %v", err)
		}

		log.Println("Server gracefully stopped")
		os.Exit(0)
	}()

	// Start server
	if err := app.Listen(":" + pkgConfig.GetEnv("PORT")); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to start server: %v", err)
	}
}
