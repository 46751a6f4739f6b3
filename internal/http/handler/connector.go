package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/http/dto"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/service"
)

// ConnectorHandler exposes the bare negotiate/transfer/credential exchange,
// without creating a ledger entry or calling the DSS.
type ConnectorHandler struct {
	requests service.ToolRequestService
	defaults config.ConnectorConfig
}

func NewConnectorHandler(requests service.ToolRequestService, defaults config.ConnectorConfig) *ConnectorHandler {
	return &ConnectorHandler{requests: requests, defaults: defaults}
}

func (h *ConnectorHandler) Initiate(c *gin.Context) {
	ctx := c.Request.Context()

	var q dto.InitiateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	req, err := model.NewNegotiationRequest(
		orDefault(q.AssetID, h.defaults.AssetID),
		orDefault(q.ProtocolURL, h.defaults.CounterpartyProtocolURL),
		orDefault(q.ConnectorID, h.defaults.CounterpartyConnectorID),
		orDefault(q.ProviderHost, h.defaults.CounterpartyHost),
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.requests.Initiate(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "connector exchange failed", "error", err, "asset_id", req.AssetID)
		c.JSON(initiateStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.InitiateResponse{BearerToken: cred.BearerToken, EndpointURL: cred.EndpointURL})
}

func initiateStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrCredentialTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrNegotiation),
		errors.Is(err, service.ErrStreamFailed),
		errors.Is(err, service.ErrMissingCredentialField):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
