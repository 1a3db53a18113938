package app

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"docrender/internal/domain"
	"docrender/internal/handlers"
	u "docrender/internal/utils"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, svc *handlers.TemplateService) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, svc)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// errorHandler is the only place that turns errors into HTTP statuses.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case domain.IsClientError(err):
		code = fiber.StatusBadRequest
	case errors.As(err, &fe):
		code = fe.Code
	}
	msg := err.Error()

	requestID, _ := c.Locals("requestid").(string)
	if code >= fiber.StatusInternalServerError {
		u.Error("Request failed", "path", c.Path(), "status", code, "error", msg, "request_id", requestID)
	} else {
		u.Warn("Request rejected", "path", c.Path(), "status", code, "error", msg, "request_id", requestID)
	}

	return c.Status(code).JSON(fiber.Map{"message": msg})
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, svc *handlers.TemplateService) {
	app.Post(handlers.HTMLPath, svc.HandleHTML)

	app.Post("/pdf", svc.HandleDefaultPDF())
	for _, name := range []string{u.BackendChromedp, u.BackendRod} {
		if r, ok := svc.Renderers[name]; ok {
			app.Post("/pdf/"+name, svc.HandlePDF(r))
		}
	}

	app.Get("/stats", svc.HandleStats)
	app.Get("/ops/monitor", monitor.New())
}
