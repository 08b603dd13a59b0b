package controllers

import (
	"github.com/foldstream/foldstream/internal/domain"
	"github.com/foldstream/foldstream/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// EventController lets installed apps emit events into the store.
type EventController struct {
	eventService domain.EventService
}

type EventControllerDependencies struct {
	EventService domain.EventService
}

func NewEventController(deps EventControllerDependencies) *EventController {
	return &EventController{
		eventService: deps.EventService,
	}
}

type emitEventRequest struct {
	EventKey       string                `json:"eventKey"`
	TargetUserID   *string               `json:"targetUserId,omitempty"`
	TargetLocation *domain.EventLocation `json:"targetLocation,omitempty"`
	Data           map[string]any        `json:"data"`
}

func (c *EventController) EmitEvent(ctx fiber.Ctx) error {
	var req emitEventRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.EventKey == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "eventKey is required",
		})
	}

	appIdentifier, _ := ctx.Locals(middlewares.LocalsAppIdentifier).(string)

	event, err := c.eventService.EmitEvent(ctx.RequestCtx(), domain.EmitEventParams{
		EmitterIdentifier: appIdentifier,
		EventKey:          req.EventKey,
		TargetUserID:      req.TargetUserID,
		TargetLocation:    req.TargetLocation,
		Data:              req.Data,
	})
	if err != nil {
		return domainErrorResponse(ctx, err)
	}

	log.Info().
		Str("event_id", event.ID).
		Str("event_key", event.EventKey).
		Str("app_identifier", appIdentifier).
		Msg("App emitted event")

	return ctx.Status(fiber.StatusCreated).JSON(event)
}
