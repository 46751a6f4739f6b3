package webhook

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

type DSSCallbackHandler struct {
	requests service.ToolRequestService
}

func NewDSSCallbackHandler(requests service.ToolRequestService) *DSSCallbackHandler {
	return &DSSCallbackHandler{requests: requests}
}

// HandleCallback resolves the DSS completion webhook to the request owned by
// :user_id whose job id matches the payload.
func (h *DSSCallbackHandler) HandleCallback(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	var payload model.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	slog.InfoContext(ctx, "received dss callback", "user_id", userID, "job_id", payload.JobID, "status", payload.Status)

	rec, err := h.requests.HandleCallback(ctx, userID, payload)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidCallback):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no request matches this callback"})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "request already finished"})
		default:
			slog.ErrorContext(ctx, "failed to process dss callback", "error", err, "user_id", userID, "job_id", payload.JobID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process callback"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.CallbackResponse{Status: "callback_received", RequestID: rec.ID})
}
