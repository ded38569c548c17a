package middleware

import (
	"regexp"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header the ID travels in, both directions.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the Locals key handlers read the ID from.
	RequestIDKey = "request_id"
)

// requestIDPattern accepts UUIDs and simple client-chosen trace IDs.
// Anything else is replaced so log lines stay greppable.
var requestIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

// RequestID tags every request with a correlation ID. A well-formed
// client-supplied X-Request-ID is passed through so callers can trace
// their own requests; otherwise the server generates a UUID. The ID is
// stored in Locals and echoed on the response.
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" || !requestIDPattern.MatchString(requestID) {
			requestID = uuid.New().String()
		}

		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDHeader, requestID)

		return c.Next()
	}
}

// GetRequestID returns the request's correlation ID, or "" when the
// middleware is not installed.
func GetRequestID(c fiber.Ctx) string {
	if id, ok := c.Locals(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
