package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/swaggo/swag"

	// Register the generated OpenAPI spec.
	_ "tollgate/docs"
)

// DocsHandler serves API documentation
type DocsHandler struct{}

// NewDocsHandler creates a new docs handler
func NewDocsHandler() *DocsHandler {
	return &DocsHandler{}
}

// RegisterRoutes registers documentation routes
func (h *DocsHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/docs", h.SwaggerUI)
	app.Get("/docs/swagger.json", h.SwaggerJSON)
}

// SwaggerUI serves the Swagger UI page
// @Summary API Documentation
// @Description Interactive API documentation using Swagger UI
// @Tags docs
// @Produce html
// @Router /docs [get]
func (h *DocsHandler) SwaggerUI(c fiber.Ctx) error {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Tollgate API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
    <style>
        html { box-sizing: border-box; overflow-y: scroll; }
        *, *:before, *:after { box-sizing: inherit; }
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/docs/swagger.json",
                dom_id: '#swagger-ui',
                presets: [
                    SwaggerUIBundle.presets.apis,
                    SwaggerUIBundle.SwaggerUIStandalonePreset
                ],
                layout: "BaseLayout",
                deepLinking: true,
                showExtensions: true,
                showCommonExtensions: true
            });
        };
    </script>
</body>
</html>`
	// The UI loads its bundle from unpkg and boots from an inline
	// script, so the global deny-all policy has to be relaxed here.
	c.Set("Content-Security-Policy",
		"default-src 'none'; "+
			"script-src 'unsafe-inline' https://unpkg.com; "+
			"style-src 'unsafe-inline' https://unpkg.com; "+
			"img-src 'self' data:; "+
			"connect-src 'self'; "+
			"frame-ancestors 'none'")
	c.Set("Content-Type", "text/html")
	return c.SendString(html)
}

// SwaggerJSON serves the OpenAPI specification
// @Summary OpenAPI Specification
// @Description Returns the OpenAPI specification in JSON format
// @Tags docs
// @Produce json
// @Router /docs/swagger.json [get]
func (h *DocsHandler) SwaggerJSON(c fiber.Ctx) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		slog.Error("failed to render OpenAPI spec", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Documentation unavailable",
		})
	}
	c.Set("Content-Type", "application/json")
	return c.SendString(doc)
}
