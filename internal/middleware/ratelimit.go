package middleware

import (
	"strings"
	"time"

	"tollgate/internal/config"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
)

// RateLimiter hands out per-route request limiters. Verification is
// cheap and budgeted generously; settlement submits transactions and
// gets a much tighter budget per client IP.
type RateLimiter struct {
	config *config.RateLimitConfig
}

// NewRateLimiter creates a rate limiter from the configured budgets.
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{config: cfg}
}

// Verify returns the limiter for the verification endpoints.
func (m *RateLimiter) Verify() fiber.Handler {
	return m.perMinute(m.config.VerifyPerMinute)
}

// Settle returns the limiter for the settlement endpoint.
func (m *RateLimiter) Settle() fiber.Handler {
	return m.perMinute(m.config.SettlePerMinute)
}

// Admin returns the limiter for the admin surface.
func (m *RateLimiter) Admin() fiber.Handler {
	return m.perMinute(m.config.AdminPerMinute)
}

// perMinute builds a fixed-window per-IP limiter. Each call owns its
// own counter store, so budgets are per route group, not shared.
func (m *RateLimiter) perMinute(max int) fiber.Handler {
	if !m.config.Enabled || max <= 0 {
		return func(c fiber.Ctx) error {
			return c.Next()
		}
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached:           rateLimitResponse,
		SkipSuccessfulRequests: false,
		SkipFailedRequests:     false,
		Next: func(c fiber.Ctx) bool {
			// Health probes are never limited.
			return isHealthEndpoint(c.Path())
		},
	})
}

// rateLimitResponse returns a 429 Too Many Requests response
func rateLimitResponse(c fiber.Ctx) error {
	retryAfter := c.GetRespHeader("Retry-After")
	if retryAfter == "" {
		retryAfter = "60"
	}

	c.Set("Retry-After", retryAfter)
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Too many requests",
		"message":     "Rate limit exceeded. Please try again later.",
		"retry_after": retryAfter,
	})
}

// isHealthEndpoint checks if the path is a health endpoint
func isHealthEndpoint(path string) bool {
	return strings.HasPrefix(path, "/health")
}
