package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sentinel/console/internal/config"
)

// APIKeyAuth accepts the key in X-API-Key, a bearer token or the api_key
// query parameter. An empty configured key disables the check.
func APIKeyAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.APIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-API-Key")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}
		if headerToken == "" {
			headerToken = c.Query("api_key")
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}
