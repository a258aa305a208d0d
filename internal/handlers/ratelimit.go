package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
	"github.com/verax-io/verax/internal/ratelimit"
)

// RateLimitHandler handles rate limit administration endpoints
type RateLimitHandler struct {
	service *ratelimit.Service
	log     logger.Logger
}

// NewRateLimitHandler creates a new rate limit admin handler
func NewRateLimitHandler(service *ratelimit.Service, log logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		service: service,
		log:     log,
	}
}

// GetStats returns current rate limiting statistics
// GET /v1/admin/ratelimit/stats
func (h *RateLimitHandler) GetStats(c *fiber.Ctx) error {
	stats := h.service.Stats()

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

// GetConfig returns current rate limit configuration
// GET /v1/admin/ratelimit/config
func (h *RateLimitHandler) GetConfig(c *fiber.Ctx) error {
	config := h.service.GetConfig()

	return c.JSON(fiber.Map{
		"success": true,
		"config": fiber.Map{
			"enabled":          config.Enabled,
			"requests_per_sec": config.RequestsPerSec,
			"burst":            config.Burst,
			"by_ip":            config.ByIP,
			"by_org":           config.ByOrg,
			"cleanup_interval": config.CleanupInterval.String(),
		},
	})
}

// ResetIP resets the rate limit bucket of one client address
// POST /v1/admin/ratelimit/reset/ip/:ip
func (h *RateLimitHandler) ResetIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "IP address is required",
		})
	}

	h.service.ResetIP(ip)

	h.log.Info("Rate limit reset for IP",
		logger.String("ip", ip),
		logger.String("admin_user", adminUser(c)))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Rate limit reset successfully",
		"ip":      ip,
	})
}

// ResetOrg resets the rate limit bucket of one organization
// POST /v1/admin/ratelimit/reset/org/:org_id
func (h *RateLimitHandler) ResetOrg(c *fiber.Ctx) error {
	orgID := c.Params("org_id")
	if orgID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "organization id is required",
		})
	}

	h.service.ResetOrg(orgID)

	h.log.Info("Rate limit reset for organization",
		logger.String("org_id", orgID),
		logger.String("admin_user", adminUser(c)))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Rate limit reset successfully",
		"org_id":  orgID,
	})
}

func adminUser(c *fiber.Ctx) string {
	if actorID := middleware.GetActorID(c); actorID != "" {
		return actorID
	}
	return "unknown"
}
