package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
)

// EventsHandler records audit events and serves individual records.
type EventsHandler struct {
	service *audit.Service
}

func NewEventsHandler(service *audit.Service) *EventsHandler {
	return &EventsHandler{service: service}
}

// Log appends one event to the caller's trail. Actor identity comes from
// the request pipeline, never from the body.
func (h *EventsHandler) Log(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		log.Warn("Event rejected without organization identity")
		return middleware.Unauthorized(c, "organization identity required")
	}

	var event audit.Event
	if err := c.BodyParser(&event); err != nil {
		log.Error("Failed to parse event body", logger.Error(err))
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	record, err := h.service.LogEvent(c.UserContext(), actor, event)
	if err != nil {
		log.Warn("Failed to record event",
			logger.String("org_id", actor.OrganizationID),
			logger.String("action", string(event.Action)),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	log.Info("Event recorded",
		logger.String("record_id", record.ID),
		logger.String("chain_key", record.ChainKey),
		logger.Uint64("sequence", record.SequenceNumber))
	return c.Status(fiber.StatusCreated).JSON(record)
}

// Get returns one record, scoped to the caller's organization.
func (h *EventsHandler) Get(c *fiber.Ctx) error {
	recordID := c.Params("id")
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	record, err := h.service.GetRecord(c.UserContext(), actor.OrganizationID, recordID)
	if err != nil {
		log.Debug("Record lookup failed",
			logger.String("record_id", recordID),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	return c.JSON(record)
}
