package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	u "docrender/internal/utils"
)

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, cfg u.Config) {
	app.Use(cors.New())

	// An incoming trace header is kept, so the loopback call made by a PDF
	// backend logs under the id of the request that started it.
	app.Use(requestid.New(requestid.Config{
		Header:     cfg.TraceHeaderName(),
		ContextKey: "requestid",
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint: "/ops/health",
	}))

	app.Use(func(c *fiber.Ctx) error {
		requestID, _ := c.Locals("requestid").(string)
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
