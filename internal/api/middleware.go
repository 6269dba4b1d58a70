package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/clock"
)

// correlationIDHeader is the header a client may set to thread its own
// correlation id through a request (spec §6 "Every HTTP request ... carries
// correlationId (header x-correlation-id or field)"); one is minted when
// absent so every log line and emitted event still carries one.
const correlationIDHeader = "X-Correlation-Id"

// correlationID extracts or mints the correlation id for c, stamping the
// response header so a client can observe what was used.
func correlationID(c *echo.Context) string {
	if id := c.Request().Header.Get(correlationIDHeader); id != "" {
		return id
	}
	id := clock.NewID()
	c.Response().Header().Set(correlationIDHeader, id)
	return id
}

// extractUserID extracts the authenticated user's id from the upstream
// proxy headers. Authentication itself is out of scope (spec §1); this
// engine trusts a fronting proxy the way the teacher trusts oauth2-proxy
// (pkg/api/auth.go's extractAuthor).
func extractUserID(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// securityHeaders sets standard response headers on every request.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
