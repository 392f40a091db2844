package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/assignment-service/internal/api/http/handlers"
	"github.com/spec-kit/assignment-service/internal/auth"
	"github.com/spec-kit/assignment-service/internal/domain"
	"github.com/spec-kit/assignment-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Rules          *handlers.RulesHandler
	SLA            *handlers.SLAHandler
	Assignments    *handlers.AssignmentHandler
	Rebalance      *handlers.RebalanceHandler
	Events         *handlers.EventsHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))

	app.Post("/events/tickets",
		cfg.AuthMiddleware.Handle,
		auth.RequireRoles(domain.AgentRoleService, domain.AgentRoleAdmin),
		cfg.Events.Ingest,
	)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAdmin())

	rules := api.Group("/rules")
	rules.Get("", cfg.Rules.List)
	rules.Post("", cfg.Rules.Create)
	rules.Get("/:id", cfg.Rules.Get)
	rules.Put("/:id", cfg.Rules.Update)
	rules.Patch("/:id/enabled", cfg.Rules.SetEnabled)
	rules.Delete("/:id", cfg.Rules.Delete)

	policies := api.Group("/sla-policies")
	policies.Get("", cfg.SLA.List)
	policies.Put("", cfg.SLA.Upsert)
	policies.Get("/preview", cfg.SLA.Preview)

	tickets := api.Group("/tickets/:id")
	tickets.Post("/assign", cfg.Assignments.Assign)
	tickets.Post("/assign/manual", cfg.Assignments.AssignManually)
	tickets.Post("/reassign", cfg.Assignments.Reassign)
	tickets.Get("/decisions", cfg.Assignments.Decisions)

	api.Get("/agents/workload", cfg.Assignments.Workload)
	api.Post("/rebalance", cfg.Rebalance.Run)
}
