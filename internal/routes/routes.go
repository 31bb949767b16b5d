package routes

import (
	"time"

	"file-service/internal/config"
	"file-service/internal/handlers"
	"file-service/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

func SetupRoutes(app *fiber.App, fileService *services.FileService, cfg *config.Config) {
	// API routes group
	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Monitor route
	app.Get("/metrics", monitor.New())

	// Health check route
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"service":   "file-service",
			"timestamp": time.Now().UTC(),
		})
	})

	// File routes
	fileHandler := handlers.NewFileHandler(fileService, cfg)

	files := v1.Group("/files")
	files.Post("/", fileHandler.UploadFile)
	files.Post("/batch", fileHandler.UploadMultipleFiles)
	files.Get("/", fileHandler.SearchFiles)
	files.Get("/limits", fileHandler.GetFileLimits)
	files.Get("/:id", fileHandler.GetFile)
	files.Get("/:id/download", fileHandler.DownloadFile)
	files.Get("/:id/thumbnail", fileHandler.GetThumbnail)
	files.Delete("/:id", fileHandler.DeleteFile)

	// Version routes
	files.Post("/:id/versions", fileHandler.CreateVersion)
	files.Get("/:id/versions", fileHandler.ListVersions)
	files.Get("/:id/versions/compare", fileHandler.CompareVersions)
	files.Get("/:id/versions/:version", fileHandler.DownloadVersion)
	files.Post("/:id/versions/:version/rollback", fileHandler.RollbackVersion)
}
