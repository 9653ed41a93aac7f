package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Map pages load leaflet from unpkg and tiles from OpenStreetMap.
var (
	scriptSources = []string{"https://unpkg.com", "https://cdn.jsdelivr.net"}
	tileSources   = []string{"https://*.tile.openstreetmap.org"}
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := buildCSP(cfg.AllowedOrigins)

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildCSP(origins []string) string {
	scripts := strings.Join(scriptSources, " ")
	connect := append([]string{"'self'", "ws:", "wss:"}, origins...)

	return "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' " + scripts + "; " +
		"style-src 'self' 'unsafe-inline' " + scripts + "; " +
		"img-src 'self' data: " + strings.Join(append(tileSources, scripts), " ") + "; " +
		"font-src 'self' data:; " +
		"connect-src " + strings.Join(connect, " ") + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"
}
