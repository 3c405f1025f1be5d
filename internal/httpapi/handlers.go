package httpapi

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/export"
	"github.com/raulgabino/panwhat-sub000/internal/jobs"
	"github.com/raulgabino/panwhat-sub000/internal/metrics"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

const listJobsLimit = 50

type Handler struct {
	db       *sql.DB
	queue    Submitter
	analyzer jobs.Analyzer
	now      func() time.Time
}

func NewHandler(deps Deps) *Handler {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{db: deps.DB, queue: deps.Queue, analyzer: deps.Analyzer, now: now}
}

type analyzeRequest struct {
	Text         any  `json:"text"`
	Accumulative bool `json:"accumulative"`
}

type resultResponse struct {
	JobID   string         `json:"jobId"`
	Summary domain.Summary `json:"summary"`
	Trends  domain.Trends  `json:"trends"`
	Usage   usageResponse  `json:"usage"`
}

type usageResponse struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(domain.ErrorResponse{Error: code, Message: message})
}

// parseText rejects bodies whose "text" is missing or not a string. An empty
// string is accepted and yields an empty analysis. ok is false once a
// response has been written.
func parseText(c *fiber.Ctx) (req analyzeRequest, text string, ok bool, err error) {
	if err := c.BodyParser(&req); err != nil {
		return req, "", false, badRequest(c, "invalid_request", "Failed to parse request body")
	}
	text, ok = req.Text.(string)
	if !ok {
		return req, "", false, badRequest(c, "invalid_request", "Field 'text' is required and must be a string")
	}
	return req, text, true, nil
}

// Analyze runs a synchronous analysis of the posted transcript. Nothing is stored.
func (h *Handler) Analyze(c *fiber.Ctx) error {
	_, text, ok, err := parseText(c)
	if !ok {
		return err
	}
	started := time.Now()
	result, err := h.analyzer.Analyze(c.UserContext(), text, h.now())
	metrics.ObserveAnalysis(time.Since(started))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(domain.ErrorResponse{
			Error:   "analysis_error",
			Message: err.Error(),
		})
	}
	log.Printf("sync analysis clients=%d orders=%d took=%s", result.Summary.TotalClients, result.Summary.TotalOrders, time.Since(started).Round(time.Millisecond))
	return c.JSON(result)
}

func (h *Handler) SubmitJob(c *fiber.Ctx) error {
	req, text, ok, err := parseText(c)
	if !ok {
		return err
	}
	job, err := h.queue.Submit(c.UserContext(), text, req.Accumulative)
	if errors.Is(err, jobs.ErrQueueFull) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(domain.ErrorResponse{
			Error:   "queue_full",
			Message: fmt.Sprintf("Job %s rejected: %v", job.ID, err),
		})
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (h *Handler) ListJobs(c *fiber.Ctx) error {
	list, err := sqlite.ListJobs(h.db, c.QueryInt("limit", listJobsLimit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.Job{}
	}
	return c.JSON(fiber.Map{"jobs": list})
}

func (h *Handler) GetJob(c *fiber.Ctx) error {
	job, err := sqlite.GetJob(h.db, c.Params("id"))
	if errors.Is(err, sqlite.ErrJobNotFound) {
		return notFound(c, "job_not_found", "Job not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(job)
}

// loadResult answers 404 for unknown jobs and 409 for jobs without a result
// yet. ok is false once a response has been written.
func (h *Handler) loadResult(c *fiber.Ctx) (result domain.AnalysisResult, ok bool, err error) {
	id := c.Params("id")
	job, err := sqlite.GetJob(h.db, id)
	if errors.Is(err, sqlite.ErrJobNotFound) {
		return result, false, notFound(c, "job_not_found", "Job not found")
	}
	if err != nil {
		return result, false, err
	}
	result, err = sqlite.GetResult(h.db, id)
	if errors.Is(err, sqlite.ErrResultNotFound) {
		return result, false, c.Status(fiber.StatusConflict).JSON(domain.ErrorResponse{
			Error:   "result_not_ready",
			Message: fmt.Sprintf("Job is %s", job.Status),
		})
	}
	if err != nil {
		return result, false, err
	}
	return result, true, nil
}

func (h *Handler) GetResult(c *fiber.Ctx) error {
	result, ok, err := h.loadResult(c)
	if !ok {
		return err
	}
	usage, err := sqlite.GetResultUsage(h.db, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(resultResponse{
		JobID:   c.Params("id"),
		Summary: result.Summary,
		Trends:  result.Trends,
		Usage:   usageResponse{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
	})
}

func (h *Handler) GetClients(c *fiber.Ctx) error {
	result, ok, err := h.loadResult(c)
	if !ok {
		return err
	}
	return c.JSON(sqlite.Paginate(result.Clients, c.QueryInt("page", 1), c.QueryInt("limit", sqlite.DefaultPageLimit)))
}

func (h *Handler) GetProducts(c *fiber.Ctx) error {
	result, ok, err := h.loadResult(c)
	if !ok {
		return err
	}
	return c.JSON(sqlite.Paginate(result.Products, c.QueryInt("page", 1), c.QueryInt("limit", sqlite.DefaultPageLimit)))
}

func (h *Handler) GetOrders(c *fiber.Ctx) error {
	result, ok, err := h.loadResult(c)
	if !ok {
		return err
	}
	return c.JSON(sqlite.Paginate(result.Orders, c.QueryInt("page", 1), c.QueryInt("limit", sqlite.DefaultPageLimit)))
}

func (h *Handler) Export(c *fiber.Ctx) error {
	section := strings.ToLower(c.Params("section"))
	result, ok, err := h.loadResult(c)
	if !ok {
		return err
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, section, result); err != nil {
		if errors.Is(err, export.ErrUnknownSection) {
			return badRequest(c, "invalid_section", fmt.Sprintf("Section must be one of %s", strings.Join(export.Sections, ", ")))
		}
		return err
	}
	c.Attachment(fmt.Sprintf("%s_%s.csv", section, c.Params("id")))
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(buf.Bytes())
}

func notFound(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(domain.ErrorResponse{Error: code, Message: message})
}
