package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/iamqiss/Pixelle-sub004/internal/config"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
)

// MinKeyLength is the shortest API key the gate accepts. Shorter keys
// in the config are dropped at startup rather than honored.
const MinKeyLength = 32

// UsableKey reports whether a configured key is strong enough to guard
// the admin routes.
func UsableKey(key string) bool {
	return len(key) >= MinKeyLength && strings.TrimSpace(key) != ""
}

// APIKeyAuth guards the versioned admin routes. The key arrives in the
// X-API-Key header or in Authorization, with or without a Bearer
// prefix. With auth disabled every request passes through.
func APIKeyAuth(logger *logging.Logger, cfg config.AuthConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if key == "" {
			continue
		}
		if !UsableKey(key) {
			logger.Warn("Dropping API key below minimum length",
				"key_prefix", maskKey(key),
				"key_length", len(key),
				"min_length", MinKeyLength)
			continue
		}
		keys[key] = struct{}{}
	}
	if len(keys) == 0 && len(cfg.APIKeys) > 0 {
		logger.Error("Authentication enabled but no configured key is usable",
			"configured", len(cfg.APIKeys),
			"min_length", MinKeyLength)
	}

	return func(c *fiber.Ctx) error {
		key := requestKey(c)
		if key == "" {
			logger.Warn("Request without API key",
				"method", c.Method(),
				"path", c.Path(),
				"ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "API key required via X-API-Key or Authorization header",
				},
			})
		}
		if _, ok := keys[key]; !ok {
			logger.Warn("Request with unknown API key",
				"method", c.Method(),
				"path", c.Path(),
				"ip", c.IP(),
				"key_prefix", maskKey(key))
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "Unknown API key",
				},
			})
		}
		return c.Next()
	}
}

// requestKey extracts the API key from the request headers
func requestKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

// maskKey keeps the first 4 characters for log correlation
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
