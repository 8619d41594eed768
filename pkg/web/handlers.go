// Package web exposes the read-only query surface and the test-workflow
// endpoint over HTTP. Everything here is for tooling and the logs/history
// UI; event production and workflow CRUD belong to the surrounding
// application.
package web

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/loomery/loom/pkg/flow"
	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/registry"
	"github.com/loomery/loom/pkg/store"
)

// HealthReporter is the slice of the worker pool the API needs.
type HealthReporter interface {
	Health() models.HealthStatus
	WorkerHealth() []models.WorkerHealth
	Statistics() models.WorkerStatistics
}

type APIHandlers struct {
	engine    *flow.Engine
	store     store.Store
	catalog   *registry.EventCatalog
	pool      HealthReporter
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	engine *flow.Engine,
	st store.Store,
	catalog *registry.EventCatalog,
	pool HealthReporter,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		store:     st,
		catalog:   catalog,
		pool:      pool,
		validator: validator.New(),
		logger:    logger.With("module", "web"),
	}
}

// NewApp builds the fiber application with all routes mounted.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "loom"})

	app.Get("/healthz", handlers.GetHealth)
	app.Get("/catalog", handlers.GetCatalog)
	app.Get("/executions", handlers.ListExecutions)
	app.Get("/executions/:id", handlers.GetExecution)
	app.Post("/test-workflow", handlers.TestWorkflow)

	return app
}

func (h *APIHandlers) GetHealth(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}

	response := fiber.Map{"status": "ok"}

	if h.pool != nil {
		response["pool_health"] = h.pool.Health()
		response["workers"] = h.pool.WorkerHealth()
		response["statistics"] = h.pool.Statistics()
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetCatalog(c fiber.Ctx) error {
	entries := h.catalog.List()

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	tenant := c.Query("tenant")
	if tenant == "" {
		return badRequest(c, "tenant query parameter is required")
	}

	executions, err := h.store.ListExecutions(c.Context(), tenant)
	if err != nil {
		return handleStoreError(c, err)
	}

	if status := c.Query("status"); status != "" {
		executions = filterByStatus(executions, models.ExecutionStatus(status))
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"count":      len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	tenant := c.Query("tenant")
	if tenant == "" {
		return badRequest(c, "tenant query parameter is required")
	}

	execution, err := h.store.Execution(c.Context(), tenant, c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) TestWorkflow(c fiber.Ctx) error {
	var request flow.TestRequest
	if err := c.Bind().JSON(&request); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(request); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.TestWorkflow(c.Context(), request)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(result)
}

// Listen serves the API until the context is cancelled.
func Listen(ctx context.Context, app *fiber.App, addr string, logger *slog.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		return app.Shutdown()
	case err := <-errCh:
		return err
	}
}

func filterByStatus(executions []*models.Execution, status models.ExecutionStatus) []*models.Execution {
	filtered := make([]*models.Execution, 0, len(executions))

	for _, execution := range executions {
		if execution.Status == status {
			filtered = append(filtered, execution)
		}
	}

	return filtered
}
