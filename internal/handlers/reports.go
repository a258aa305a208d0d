package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
)

// reportRequest is the wire shape of a compliance report job. The filter
// reuses the search request shape.
type reportRequest struct {
	Title string        `json:"title"`
	Query searchRequest `json:"query"`
}

// ReportsHandler enqueues compliance report jobs and serves their status.
type ReportsHandler struct {
	service *audit.Service
}

func NewReportsHandler(service *audit.Service) *ReportsHandler {
	return &ReportsHandler{service: service}
}

// Create enqueues a report job and returns its id. Generation is
// asynchronous; poll Get for completion.
func (h *ReportsHandler) Create(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("Failed to parse report request", logger.Error(err))
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	reportID, err := h.service.GenerateComplianceReport(c.UserContext(), actor, audit.ReportRequest{
		OrganizationID: actor.OrganizationID,
		Title:          req.Title,
		RequestedBy:    actor.ActorID,
		Query:          *req.Query.toQuery(actor.OrganizationID),
	})
	if err != nil {
		log.Warn("Failed to enqueue report",
			logger.String("org_id", actor.OrganizationID),
			logger.String("title", req.Title),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	log.Info("Report enqueued",
		logger.String("report_id", reportID),
		logger.String("title", req.Title))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"report_id": reportID,
		"status":    audit.ReportPending,
	})
}

// Get returns the state of one report job.
func (h *ReportsHandler) Get(c *fiber.Ctx) error {
	reportID := c.Params("id")
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	report, err := h.service.GetReport(actor.OrganizationID, reportID)
	if err != nil {
		log.Debug("Report lookup failed",
			logger.String("report_id", reportID),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	return c.JSON(report)
}

// List returns the organization's report jobs, newest first.
func (h *ReportsHandler) List(c *fiber.Ctx) error {
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	reports := h.service.ListReports(actor.OrganizationID)
	return c.JSON(fiber.Map{
		"reports": reports,
		"count":   len(reports),
	})
}
