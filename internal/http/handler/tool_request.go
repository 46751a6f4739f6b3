package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataspace.app/orchestrator/internal/http/dto"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/service"
	"dataspace.app/orchestrator/internal/store"
)

type ToolRequestHandler struct {
	requests service.ToolRequestService
}

func NewToolRequestHandler(requests service.ToolRequestService) *ToolRequestHandler {
	return &ToolRequestHandler{requests: requests}
}

// Submit records a tool request and returns immediately; negotiation and job
// creation continue in the background.
func (h *ToolRequestHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: user_id is required"})
		return
	}

	rec, err := h.requests.Submit(ctx, req.ToService())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToolRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrDispatchUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request could not be scheduled, try again later"})
		default:
			slog.ErrorContext(ctx, "failed to submit tool request", "error", err, "user_id", req.UserID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit request"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToToolResponse(rec))
}

func (h *ToolRequestHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	rec, err := h.requests.Get(ctx, c.Param("request_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get tool request", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get request"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *ToolRequestHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	recs, err := h.requests.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list tool requests", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list requests"})
		return
	}
	if recs == nil {
		recs = []model.RequestRecord{}
	}

	c.JSON(http.StatusOK, dto.ListRequestsResponse{Requests: recs})
}
