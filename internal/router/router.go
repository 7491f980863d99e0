package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-review-engine/internal/config"
	"github.com/noah-isme/gema-review-engine/internal/handler"
	"github.com/noah-isme/gema-review-engine/internal/middleware"
	"github.com/noah-isme/gema-review-engine/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ReviewHandler           *handler.ReviewHandler
	AssignmentStatusHandler *handler.AssignmentStatusHandler
	GradeHandler            *handler.GradeHandler
	RegradeHandler          *handler.RegradeHandler
	SettingsHandler         *handler.SettingsHandler
	NotificationHandler     *handler.NotificationHandler
	AuditHandler            *handler.AuditHandler
	HealthProbes            map[string]handler.Probe
	// RateLimitStorage shares rate limit counters between instances. Nil keeps them in memory.
	RateLimitStorage        fiber.Storage
	JWTMiddleware           fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	public := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	public.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := public.Group("", jwtMiddleware)
	staff := middleware.RequireStaff()

	assignments := api.Group("/assignments")
	if deps.AssignmentStatusHandler != nil {
		deps.AssignmentStatusHandler.Register(assignments, staff)
	}
	if deps.ReviewHandler != nil {
		deps.ReviewHandler.RegisterAssignmentRoutes(assignments, staff)
		deps.ReviewHandler.Register(api.Group("/reviews"))
	}

	submissions := api.Group("/submissions")
	if deps.GradeHandler != nil {
		deps.GradeHandler.RegisterAssignmentRoutes(assignments, staff)
		deps.GradeHandler.RegisterSubmissionRoutes(submissions, staff)
	}

	if deps.RegradeHandler != nil {
		deps.RegradeHandler.RegisterSubmissionRoutes(submissions)
		regrades := api.Group("/regrades", middleware.RateLimit("regrades", 20, time.Minute, deps.RateLimitStorage))
		deps.RegradeHandler.Register(regrades, staff)
	}

	if deps.SettingsHandler != nil {
		deps.SettingsHandler.Register(api.Group("/settings"), staff, middleware.RequireRole(middleware.RoleAdmin))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications"))
	}

	if deps.AuditHandler != nil {
		deps.AuditHandler.Register(api.Group("/audit"), staff)
	}
}
