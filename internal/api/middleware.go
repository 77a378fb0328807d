package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/logger"
)

// RequestLogger logs one structured line per request and echoes the
// request id back to the caller.
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID := logger.RequestID(c)
		c.Locals("requestid", reqID)
		c.Set(logger.RequestIDHeader, reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		entry := log.WithRequest(c, reqID).WithFields(logrus.Fields{
			"status_code": status,
			"latency_ms":  time.Since(start).Milliseconds(),
		})
		switch {
		case err != nil && status >= 500:
			entry.WithError(err).Error("request failed")
		case status >= 500:
			entry.Error("request completed with server error")
		case status >= 400:
			entry.Warn("request completed with client error")
		default:
			entry.Info("request completed")
		}
		return err
	}
}

// errorHandler renders errors that escape handlers in the JSON envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return RespondWithError(c, code, err.Error())
}
