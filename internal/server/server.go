package server

import (
	"time"

	"github.com/foldstream/foldstream/internal/auth"
	"github.com/foldstream/foldstream/internal/controllers"
	"github.com/foldstream/foldstream/internal/middlewares"
	"github.com/foldstream/foldstream/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type HTTPServerDependencies struct {
	TokenVerifier    *auth.TokenVerifier
	WorkerController *controllers.WorkerController
	EventController  *controllers.EventController
}

func NewHTTPServer(deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "foldstream",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	// Health check endpoint (no authentication required)
	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "foldstream",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	worker := router.Group("/worker")
	worker.Use(middlewares.WorkerAuthMiddleware(deps.TokenVerifier))

	worker.Get("/:operationId/start", deps.WorkerController.StartOperation)
	worker.Post("/:operationId/complete", deps.WorkerController.CompleteOperation)
	worker.Post("/:operationId/output-upload-urls", deps.WorkerController.CreateOutputUploadURLs)
	worker.Post("/:operationId/metadata-upload-urls", deps.WorkerController.CreateMetadataUploadURLs)
	worker.Post("/content-attributes", deps.WorkerController.UpdateContentAttributes)
	worker.Post("/content-metadata", deps.WorkerController.UpdateContentMetadata)

	apps := router.Group("/apps/:appIdentifier")
	apps.Use(middlewares.AppAuthMiddleware(deps.TokenVerifier))

	apps.Post("/events", deps.EventController.EmitEvent)

	return router
}
