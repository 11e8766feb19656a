package api

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/ids"
)

// requestIDHeader carries the per-request correlation id, echoed back to the
// caller and attached to error envelopes.
const requestIDHeader = "X-Request-ID"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requestID assigns a correlation id when the caller did not send one.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = ids.NewRequestID()
			}
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

// requestLogger logs one line per request after completion.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)

			status := 0
			if res, resErr := echo.UnwrapResponse(c.Response()); resErr == nil {
				status = res.Status
			}
			if httpErr, ok := err.(*echo.HTTPError); ok {
				status = httpErr.Code
			}
			slog.Info("HTTP request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(requestIDHeader))
			return err
		}
	}
}
