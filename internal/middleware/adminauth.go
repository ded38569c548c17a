package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tollgate/internal/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

// AdminSubjectKey is the Locals key carrying the authenticated admin
// token subject.
const AdminSubjectKey = "admin_subject"

// AdminAuth validates bearer JWTs on the admin surface. A shared
// HS256 secret and a remote JWKS are the two supported verification
// modes; with neither configured every admin request answers 503 so
// the routes are never silently open.
type AdminAuth struct {
	config *config.AdminConfig

	mu   sync.Mutex
	jwks keyfunc.Keyfunc
}

// NewAdminAuth creates the admin authentication middleware.
func NewAdminAuth(cfg *config.AdminConfig) *AdminAuth {
	return &AdminAuth{config: cfg}
}

// initJWKS lazily initializes the JWKS keyfunc on first use.
func (m *AdminAuth) initJWKS(ctx context.Context) (keyfunc.Keyfunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.jwks != nil {
		return m.jwks, nil
	}

	k, err := keyfunc.NewDefaultCtx(ctx, []string{m.config.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	m.jwks = k
	return k, nil
}

// secretKeyfunc verifies HS256 tokens against the shared secret.
func (m *AdminAuth) secretKeyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
	}
	return []byte(m.config.JWTSecret), nil
}

// Handler returns the Fiber middleware guarding admin routes.
func (m *AdminAuth) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		if !m.config.Enabled() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Admin authentication is not configured",
			})
		}

		authHeader := string(c.Request().Header.Peek("Authorization"))
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}
		token := parts[1]

		var kf jwt.Keyfunc
		if m.config.JWKSURL != "" {
			k, err := m.initJWKS(c.Context())
			if err != nil {
				slog.Error("failed to initialize admin JWKS", "error", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Authentication service unavailable",
				})
			}
			kf = k.Keyfunc
		} else {
			kf = m.secretKeyfunc
		}

		opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
		if m.config.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(m.config.Issuer))
		}
		if m.config.Audience != "" {
			opts = append(opts, jwt.WithAudience(m.config.Audience))
		}

		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, kf, opts...)
		if err != nil || !parsed.Valid {
			slog.Debug("admin JWT validation failed", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(AdminSubjectKey, claims.Subject)

		return c.Next()
	}
}

// Optional returns a handler that enforces admin auth only when it is
// configured. Development deployments without admin credentials keep
// these routes open instead of answering 503.
func (m *AdminAuth) Optional() fiber.Handler {
	handler := m.Handler()
	return func(c fiber.Ctx) error {
		if !m.config.Enabled() {
			return c.Next()
		}
		return handler(c)
	}
}
