package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
)

// ChainsHandler serves chain summaries and runs integrity verification.
type ChainsHandler struct {
	service *audit.Service
}

func NewChainsHandler(service *audit.Service) *ChainsHandler {
	return &ChainsHandler{service: service}
}

// List returns every chain of the caller's organization with its tail.
func (h *ChainsHandler) List(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	chains, err := h.service.Chains(c.UserContext(), actor.OrganizationID)
	if err != nil {
		log.Warn("Chain listing failed",
			logger.String("org_id", actor.OrganizationID),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"organization_id": actor.OrganizationID,
		"chains":          chains,
		"count":           len(chains),
	})
}

// Verify rewalks the caller's chains and reports every violation found.
// With ?chain=KEY only that chain is checked. Findings are data, so a
// failed verification still returns 200.
func (h *ChainsHandler) Verify(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	if chainKey := c.Query("chain"); chainKey != "" {
		report, err := h.service.VerifyChain(c.UserContext(), actor, chainKey)
		if err != nil {
			log.Warn("Chain verification failed",
				logger.String("org_id", actor.OrganizationID),
				logger.String("chain_key", chainKey),
				logger.Error(err))
			return middleware.DomainError(c, err)
		}
		log.Info("Chain verified",
			logger.String("chain_key", chainKey),
			logger.Int64("records_checked", report.RecordsChecked),
			logger.Bool("is_valid", report.IsValid))
		return c.JSON(report)
	}

	report, err := h.service.VerifyIntegrity(c.UserContext(), actor)
	if err != nil {
		log.Warn("Integrity verification failed",
			logger.String("org_id", actor.OrganizationID),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	log.Info("Integrity verified",
		logger.String("org_id", actor.OrganizationID),
		logger.Int64("records_checked", report.RecordsChecked),
		logger.Bool("is_valid", report.IsValid))
	return c.JSON(report)
}
