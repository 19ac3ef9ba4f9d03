// Package api exposes the sync trigger surface over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/control"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/gaps"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/people"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/syncjob"
)

// SyncRunner runs orchestrator steps.
type SyncRunner interface {
	Tick(ctx context.Context, now time.Time) (syncjob.TickResult, error)
	RunNow(ctx context.Context, now time.Time) (syncjob.TickResult, error)
}

// PauseController flips the pause flag.
type PauseController interface {
	Pause(ctx context.Context, by string) (domain.PauseState, error)
	Resume(ctx context.Context, by string) (domain.PauseState, error)
}

// GapDetector runs gap detection.
type GapDetector interface {
	Detect(ctx context.Context, now time.Time, types ...domain.GapType) []gaps.DetectionResult
}

// GapFiller runs a gap fill batch.
type GapFiller interface {
	Fill(ctx context.Context, limit int) (gaps.FillResult, error)
}

// PeopleEnricher runs a people enrichment batch.
type PeopleEnricher interface {
	Enrich(ctx context.Context, limit int, now time.Time) (people.Result, error)
}

// FailedRetrier resets failed queue items.
type FailedRetrier interface {
	RetryFailed(ctx context.Context, ids []string) (int64, error)
}

// StatusReader builds the status report.
type StatusReader interface {
	Status(ctx context.Context) (*domain.StatusReport, error)
}

// Deps are the handler's collaborators.
type Deps struct {
	Sync     SyncRunner
	Gate     PauseController
	Detector GapDetector
	Filler   GapFiller
	People   PeopleEnricher
	Queue    FailedRetrier
	Status   StatusReader
}

// Handler serves the trigger endpoints. Handlers log through the
// request-scoped logger the server middleware attaches, so entries carry
// the request id.
type Handler struct {
	deps Deps
	now  func() time.Time
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		now:  time.Now,
	}
}

func requestLog(c *gin.Context) logger.Logger {
	return logger.FromContext(c.Request.Context()).With(logger.Component("api"))
}

type tickResponse struct {
	syncjob.TickResult
	Batch *domain.JobProgress `json:"batch,omitempty"`
}

func newTickResponse(result syncjob.TickResult) tickResponse {
	resp := tickResponse{TickResult: result}
	if result.Claimed > 0 {
		progress := result.Batch.Progress()
		resp.Batch = &progress
	}
	return resp
}

// Tick handles POST /api/v1/sync/tick.
func (h *Handler) Tick(c *gin.Context) {
	result, err := h.deps.Sync.Tick(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, "Sync tick failed", err)
		return
	}
	c.JSON(http.StatusOK, newTickResponse(result))
}

// RunNow handles POST /api/v1/sync/run-now.
func (h *Handler) RunNow(c *gin.Context) {
	result, err := h.deps.Sync.RunNow(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, "Manual sync failed", err)
		return
	}
	c.JSON(http.StatusOK, newTickResponse(result))
}

type pauseRequest struct {
	By string `json:"by"`
}

// Pause handles POST /api/v1/sync/pause.
func (h *Handler) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

// Resume handles POST /api/v1/sync/resume.
func (h *Handler) Resume(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *Handler) setPaused(c *gin.Context, paused bool) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}
	if req.By == "" {
		req.By = callerFrom(c)
	}

	set := h.deps.Gate.Resume
	if paused {
		set = h.deps.Gate.Pause
	}

	state, err := set(c.Request.Context(), req.By)
	if err != nil {
		h.fail(c, "Failed to update pause flag", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// DetectGaps handles POST /api/v1/sync/gaps/detect?type=.
func (h *Handler) DetectGaps(c *gin.Context) {
	var types []domain.GapType
	if raw := c.Query("type"); raw != "" && raw != "all" {
		gapType, err := domain.ParseGapType(raw)
		if err != nil {
			badRequest(c, "Invalid gap type", err)
			return
		}
		types = append(types, gapType)
	}

	results := h.deps.Detector.Detect(c.Request.Context(), h.now(), types...)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// FillGaps handles POST /api/v1/sync/gaps/fill?limit=.
func (h *Handler) FillGaps(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	result, err := h.deps.Filler.Fill(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "Gap fill failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EnrichPeople handles POST /api/v1/sync/people/enrich?limit=.
func (h *Handler) EnrichPeople(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	result, err := h.deps.People.Enrich(c.Request.Context(), limit, h.now())
	if err != nil {
		h.fail(c, "People enrichment failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// limitParam reads an optional non-negative limit; zero means the
// configured batch size. It writes the 400 itself.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "Invalid limit", errors.New("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

type retryRequest struct {
	IDs []string `json:"ids"`
}

// RetryFailed handles POST /api/v1/sync/queue/retry-failed.
func (h *Handler) RetryFailed(c *gin.Context) {
	var req retryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	reset, err := h.deps.Queue.RetryFailed(c.Request.Context(), req.IDs)
	if err != nil {
		h.fail(c, "Failed to retry failed items", err)
		return
	}

	requestLog(c).Info("Failed queue items reset", logger.Int64("reset", reset), logger.String("by", callerFrom(c)))
	c.JSON(http.StatusOK, gin.H{"reset": reset})
}

// Status handles GET /api/v1/sync/status.
func (h *Handler) Status(c *gin.Context) {
	report, err := h.deps.Status.Status(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to build status", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) fail(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, control.ErrPaused):
		requestLog(c).Info("Trigger rejected while paused", logger.String("path", c.FullPath()))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "SYNC_PAUSED"})
	case errors.Is(err, database.ErrJobAlreadyRunning):
		requestLog(c).Info("Trigger rejected, job already running", logger.String("path", c.FullPath()))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "JOB_RUNNING"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message, "code": "INTERNAL_ERROR"})
	}
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "details": err.Error(), "code": "BAD_REQUEST"})
}
