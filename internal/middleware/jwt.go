package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/verax-io/verax/internal/auth"
)

// Context keys set by JWTAuth for downstream middleware and handlers.
const (
	ActorIDKey        = "actor_id"
	OrganizationIDKey = "org_id"
	RolesKey          = "roles"
	ClaimsKey         = "claims"
)

// JWTAuth creates a middleware for JWT authentication
func JWTAuth(jwtService *auth.JWTService, publicPaths []string) fiber.Handler {
	// Create a map for faster path lookup
	publicPathMap := make(map[string]bool)
	for _, path := range publicPaths {
		publicPathMap[path] = true
	}

	return func(c *fiber.Ctx) error {
		// Check if path is public
		if publicPathMap[c.Path()] {
			return c.Next()
		}

		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		token := parts[1]

		// Validate token
		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			switch err {
			case auth.ErrTokenExpired:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
				})
			case auth.ErrTokenMissing:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token missing",
				})
			default:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid token",
				})
			}
		}

		// Store claims in context
		c.Locals(ActorIDKey, claims.ActorID)
		c.Locals(OrganizationIDKey, claims.OrganizationID)
		c.Locals(RolesKey, claims.Roles)
		c.Locals(ClaimsKey, claims)

		return c.Next()
	}
}

// GetActorID returns the authenticated actor ID from the context
func GetActorID(c *fiber.Ctx) string {
	if actorID, ok := c.Locals(ActorIDKey).(string); ok {
		return actorID
	}
	return ""
}

// GetOrganizationID returns the authenticated organization from the context
func GetOrganizationID(c *fiber.Ctx) string {
	if orgID, ok := c.Locals(OrganizationIDKey).(string); ok {
		return orgID
	}
	return ""
}

// GetRoles returns the roles from the context
func GetRoles(c *fiber.Ctx) []string {
	if roles, ok := c.Locals(RolesKey).([]string); ok {
		return roles
	}
	return []string{}
}

// GetClaims returns the JWT claims from the context
func GetClaims(c *fiber.Ctx) *auth.Claims {
	if claims, ok := c.Locals(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// HasRole checks if the actor has a specific role
func HasRole(c *fiber.Ctx, role string) bool {
	roles := GetRoles(c)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole creates a middleware that requires a specific role
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient permissions",
			})
		}
		return c.Next()
	}
}
