package middleware

import (
	"fmt"
	"math"

	"github.com/gofiber/fiber/v2"
	"github.com/verax-io/verax/internal/ratelimit"
)

// RateLimitMiddleware limits requests per client IP. It runs before
// auth so floods are rejected without paying for token validation.
func RateLimitMiddleware(service *ratelimit.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientIP := c.IP()

		if !service.AllowIP(clientIP) {
			return rateLimited(c, service, "ip:"+clientIP)
		}

		setRateLimitHeaders(c, service)
		return c.Next()
	}
}

// OrgRateLimitMiddleware limits requests per organization. It runs
// after auth, once the tenant is known; requests without one already
// passed the IP limiter.
func OrgRateLimitMiddleware(service *ratelimit.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID := GetOrganizationID(c)
		if orgID == "" {
			return c.Next()
		}

		if !service.AllowOrg(orgID) {
			return rateLimited(c, service, "org:"+orgID)
		}

		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, service *ratelimit.Service) {
	cfg := service.GetConfig()
	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Burst))
}

func rateLimited(c *fiber.Ctx, service *ratelimit.Service, identifier string) error {
	cfg := service.GetConfig()

	// One token refills in 1/rate seconds
	retryAfter := 1
	if cfg.RequestsPerSec > 0 {
		retryAfter = int(math.Ceil(1.0 / cfg.RequestsPerSec))
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Burst))
	c.Set("X-RateLimit-Remaining", "0")
	c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "rate_limit_exceeded",
		"message":     fmt.Sprintf("Rate limit exceeded. Please retry after %d seconds.", retryAfter),
		"identifier":  identifier,
		"retry_after": retryAfter,
	})
}
