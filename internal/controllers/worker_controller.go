package controllers

import (
	"errors"

	"github.com/foldstream/foldstream/internal/domain"
	"github.com/foldstream/foldstream/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// WorkerController exposes the operation lifecycle to workers: claiming an
// operation, minting upload URLs and reporting results.
type WorkerController struct {
	lifecycleService domain.OperationLifecycleService
}

type WorkerControllerDependencies struct {
	LifecycleService domain.OperationLifecycleService
}

func NewWorkerController(deps WorkerControllerDependencies) *WorkerController {
	return &WorkerController{
		lifecycleService: deps.LifecycleService,
	}
}

// StartOperation claims the operation for the calling worker and returns the
// download URLs for its input objects. A second claim fails.
func (c *WorkerController) StartOperation(ctx fiber.Ctx) error {
	operationID := ctx.Params("operationId")
	workerKeyID, _ := ctx.Locals(middlewares.LocalsWorkerKeyID).(string)

	urls, err := c.lifecycleService.RegisterOperationStart(ctx.RequestCtx(), operationID, workerKeyID)
	if err != nil {
		return domainErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"operationId": operationID,
		"inputUrls":   urls,
	})
}

type outputUploadURLsRequest struct {
	ObjectKeys []string `json:"objectKeys"`
}

func (c *WorkerController) CreateOutputUploadURLs(ctx fiber.Ctx) error {
	var req outputUploadURLsRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	urls, err := c.lifecycleService.CreateOutputUploadURLs(ctx.RequestCtx(), ctx.Params("operationId"), req.ObjectKeys)
	if err != nil {
		return domainErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{"uploadUrls": urls})
}

type metadataUploadURLsRequest struct {
	Targets []domain.MetadataUploadTarget `json:"targets"`
}

func (c *WorkerController) CreateMetadataUploadURLs(ctx fiber.Ctx) error {
	var req metadataUploadURLsRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	urls, err := c.lifecycleService.CreateMetadataUploadURLs(ctx.RequestCtx(), ctx.Params("operationId"), req.Targets)
	if err != nil {
		return domainErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{"uploadUrls": urls})
}

type completeOperationRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *WorkerController) CompleteOperation(ctx fiber.Ctx) error {
	var req completeOperationRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	operationID := ctx.Params("operationId")

	err := c.lifecycleService.CompleteOperation(ctx.RequestCtx(), domain.CompleteOperationParams{
		OperationID: operationID,
		Success:     req.Success,
		Error:       req.Error,
	})
	if err != nil {
		return domainErrorResponse(ctx, err)
	}

	log.Info().
		Str("operation_id", operationID).
		Bool("success", req.Success).
		Msg("Worker reported operation result")

	return ctx.JSON(fiber.Map{"operationId": operationID})
}

type contentAttributesRequest struct {
	Updates []domain.ContentAttributesUpdate `json:"updates"`
}

func (c *WorkerController) UpdateContentAttributes(ctx fiber.Ctx) error {
	var req contentAttributesRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := c.lifecycleService.UpdateContentAttributes(ctx.RequestCtx(), req.Updates); err != nil {
		return domainErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{"updated": len(req.Updates)})
}

type contentMetadataRequest struct {
	Updates []domain.ContentMetadataUpdate `json:"updates"`
}

func (c *WorkerController) UpdateContentMetadata(ctx fiber.Ctx) error {
	var req contentMetadataRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := c.lifecycleService.UpdateContentMetadata(ctx.RequestCtx(), req.Updates); err != nil {
		return domainErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{"updated": len(req.Updates)})
}

// domainErrorResponse maps domain errors to HTTP statuses without leaking
// internals on unexpected failures.
func domainErrorResponse(ctx fiber.Ctx, err error) error {
	var (
		invalid   *domain.OperationInvalidError
		notFound  *domain.OperationNotFoundError
		forbidden *domain.ForbiddenEmitEventError
		worker    *domain.WorkerInvalidError
	)

	switch {
	case errors.As(err, &invalid):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": invalid.Error()})
	case errors.As(err, &notFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFound.Error()})
	case errors.As(err, &forbidden):
		return ctx.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": forbidden.Error()})
	case errors.As(err, &worker):
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": worker.Error()})
	}

	log.Error().Err(err).Str("path", ctx.Path()).Msg("Request failed")

	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}
