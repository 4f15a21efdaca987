package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

type header struct {
	name, value string
}

// HeadersMiddleware sets hardening headers for a JSON and file-download API.
// Every response is marked no-store.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	headers := responseHeaders(cfg)

	return func(c *fiber.Ctx) error {
		for _, h := range headers {
			c.Set(h.name, h.value)
		}
		return c.Next()
	}
}

func responseHeaders(cfg HeadersConfig) []header {
	connectSrc := append([]string{"'self'"}, cfg.AllowedOrigins...)
	csp := strings.Join([]string{
		"default-src 'none'",
		"connect-src " + strings.Join(connectSrc, " "),
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'none'",
	}, "; ")

	headers := []header{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "no-referrer"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
		{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
		{"Cache-Control", "no-store"},
		{"Content-Security-Policy", csp},
	}
	if !cfg.IsDevelopment {
		headers = append(headers, header{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"})
	}
	return headers
}
