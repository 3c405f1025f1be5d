package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"runtime/debug"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/jobs"
	"github.com/raulgabino/panwhat-sub000/internal/metrics"
)

const maxBodyBytes = 16 * 1024 * 1024

type Submitter interface {
	Submit(ctx context.Context, text string, accumulative bool) (domain.Job, error)
}

type Deps struct {
	DB       *sql.DB
	Queue    Submitter
	Analyzer jobs.Analyzer
	// Now is the analysis clock for synchronous requests; naive wall-clock time.
	Now func() time.Time
}

// NewApp builds the fiber application with every route mounted.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "panwhat",
		BodyLimit:             maxBodyBytes,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.Printf("panic recovered method=%s path=%s panic=%v\n%s", c.Method(), c.Path(), e, debug.Stack())
		},
	}))
	SetupRoutes(app, NewHandler(deps))
	return app
}

func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if err := h.db.PingContext(c.UserContext()); err != nil {
			log.Printf("health db ping error: %v", err)
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now(),
		})
	})

	api := app.Group("/api", MetricsMiddleware())
	api.Post("/analyze", h.Analyze)

	jobsGroup := api.Group("/jobs")
	jobsGroup.Post("/", h.SubmitJob)
	jobsGroup.Get("/", h.ListJobs)
	jobsGroup.Get("/:id", h.GetJob)
	jobsGroup.Get("/:id/result", h.GetResult)
	jobsGroup.Get("/:id/clients", h.GetClients)
	jobsGroup.Get("/:id/products", h.GetProducts)
	jobsGroup.Get("/:id/orders", h.GetOrders)
	jobsGroup.Get("/:id/export/:section", h.Export)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	resp := domain.ErrorResponse{Error: "internal_error", Message: err.Error()}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		resp = domain.ErrorResponse{Error: "http_error", Message: fe.Message}
		if code == fiber.StatusNotFound {
			resp.Error = "not_found"
		}
	} else {
		log.Printf("http handler error path=%s err=%v", c.Path(), err)
	}
	return c.Status(code).JSON(resp)
}

// MetricsMiddleware records request count and latency per route template.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}
		metrics.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(started))
		return err
	}
}
