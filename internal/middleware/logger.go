package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// RequestLogger writes one structured line per request, tagged with the
// request id so it can be joined with system_logs.trace_id.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		traceID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
		attrs := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
			"trace_id", traceID,
		}
		if status >= fiber.StatusInternalServerError {
			slog.Warn("request failed", attrs...)
		} else {
			slog.Info("request", attrs...)
		}
		return err
	}
}
