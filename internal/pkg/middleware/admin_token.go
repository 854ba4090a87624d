package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/provado-app/provado/internal/pkg/env"
)

// RequireAdminToken authenticates back-office API requests against the
// ADMIN_API_TOKEN service secret. With no token configured the admin surface
// is disabled entirely.
func RequireAdminToken(c *fiber.Ctx) error {
	want := strings.TrimSpace(env.GetEnv("ADMIN_API_TOKEN", ""))
	if want == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	got := extractTokenFromHeader(c)
	if got == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin token"})
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
	}
	return c.Next()
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Admin-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
