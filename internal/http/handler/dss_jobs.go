package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataspace.app/orchestrator/internal/dss"
	"dataspace.app/orchestrator/internal/http/dto"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/model"
)

type JobEngine interface {
	Create(ctx context.Context, spec model.JobSpec, callbackURL *string) (model.JobRecord, error)
	Get(ctx context.Context, jobID string) (model.JobRecord, error)
	List(ctx context.Context) []model.JobRecord
	Cancel(ctx context.Context, jobID string) (model.JobRecord, error)
}

type DSSJobHandler struct {
	engine  JobEngine
	metrics *metrics.Metrics
}

func NewDSSJobHandler(engine JobEngine, m *metrics.Metrics) *DSSJobHandler {
	return &DSSJobHandler{engine: engine, metrics: m}
}

func (h *DSSJobHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateJobRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job request"})
			return
		}
	}

	var callbackURL *string
	if cb := c.Query("callback_url"); cb != "" {
		callbackURL = &cb
	}

	job, err := h.engine.Create(ctx, req.ToSpec(), callbackURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create job", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to create job"})
		return
	}

	h.metrics.RecordJob(string(job.Status))
	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}

func (h *DSSJobHandler) Get(c *gin.Context) {
	job, err := h.engine.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToJobStatusResponse(job))
}

func (h *DSSJobHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: h.engine.List(c.Request.Context())})
}

func (h *DSSJobHandler) Cancel(c *gin.Context) {
	job, err := h.engine.Cancel(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.metrics.RecordJob(string(job.Status))
	c.JSON(http.StatusOK, gin.H{"message": "Job " + job.ID + " cancelled"})
}

func (h *DSSJobHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dss.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, dss.ErrJobNotCancellable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot cancel completed or failed job"})
	default:
		slog.ErrorContext(c.Request.Context(), "job request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
