package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
)

// ArchiveHandler triggers archival sweeps over the caller's records.
type ArchiveHandler struct {
	service     *audit.Service
	defaultDays int
}

func NewArchiveHandler(service *audit.Service, defaultDays int) *ArchiveHandler {
	return &ArchiveHandler{service: service, defaultDays: defaultDays}
}

// Run archives records older than the requested cutoff. An empty body
// falls back to the configured retention window.
func (h *ArchiveHandler) Run(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	body := struct {
		OlderThanDays *int `json:"older_than_days"`
	}{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			log.Error("Failed to parse archive request", logger.Error(err))
			return middleware.BadRequest(c, "Invalid JSON body")
		}
	}

	days := h.defaultDays
	if body.OlderThanDays != nil {
		days = *body.OlderThanDays
	}

	archived, err := h.service.ArchiveOlderThan(c.UserContext(), actor, days)
	if err != nil {
		log.Warn("Archival run failed",
			logger.String("org_id", actor.OrganizationID),
			logger.Int("older_than_days", days),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	log.Info("Archival run completed",
		logger.String("org_id", actor.OrganizationID),
		logger.Int("older_than_days", days),
		logger.Int64("archived", archived))
	return c.JSON(fiber.Map{
		"message":         "archival completed",
		"archived":        archived,
		"older_than_days": days,
	})
}
